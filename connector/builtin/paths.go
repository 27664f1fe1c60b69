//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	uploadsPrefix = "uploads/"
	resultsSubdir = "storage/workflow_results"
)

// resolveSourcePath resolves a configured read path under the data
// directory. The uploads/ prefix is part of the path, not stripped.
func resolveSourcePath(dataDir, path string) (string, error) {
	return resolveUnder(dataDir, path)
}

// resolveDestinationPath resolves a configured write path. Paths with the
// uploads/ prefix stay under the data directory; everything else lands in
// the workflow results directory.
func resolveDestinationPath(dataDir, path string) (string, error) {
	if strings.HasPrefix(path, uploadsPrefix) {
		return resolveUnder(dataDir, path)
	}
	return resolveUnder(filepath.Join(dataDir, resultsSubdir), path)
}

// resolveUnder joins path under root and refuses traversal outside it.
func resolveUnder(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute file path %q not allowed", path)
	}
	resolved := filepath.Join(root, filepath.Clean(path))
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path %q escapes the data directory", path)
	}
	return resolved, nil
}
