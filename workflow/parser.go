//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Parse decodes a workflow definition from JSON or YAML, sniffing the
// format from the payload.
func Parse(data []byte) (*Graph, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseJSON decodes a JSON workflow definition.
func ParseJSON(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if err := checkDefinition(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseYAML decodes a YAML workflow definition by converting it to JSON
// first, so both formats share one decode path.
func ParseYAML(data []byte) (*Graph, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return ParseJSON(jsonData)
}

// checkDefinition validates the definition's structure. Graph-shape rules
// (endpoint existence, cycles, degree constraints) are checked when the
// graph is planned for execution.
func checkDefinition(g *Graph) error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidGraph, i)
		}
		if n.ConnectorTypeID == "" {
			return fmt.Errorf("%w: node %s has no connector_type_id", ErrInvalidGraph, n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidGraph, n.ID)
		}
		seen[n.ID] = true
	}
	for i, e := range g.Edges {
		if e.Source == "" || e.Target == "" {
			return fmt.Errorf("%w: edge %d has an empty endpoint", ErrInvalidGraph, i)
		}
	}
	return nil
}
