//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
	"trpc.group/trpc-go/trpc-dataflow-go/script"
)

// Script execution modes.
const (
	scriptModePerRecord = "per_record"
	scriptModeBatch     = "batch"
)

const scriptPreviewLimit = 100

// Script runs user JavaScript against each record or the whole batch in a
// sandbox with no host access.
type Script struct {
	engine *script.Engine

	source string
	mode   string
}

var _ connector.Connector = (*Script)(nil)

// ID implements connector.Connector.
func (s *Script) ID() string { return TypeScript }

// Name implements connector.Connector.
func (s *Script) Name() string { return "JavaScript Processor" }

// Type implements connector.Connector.
func (s *Script) Type() connector.Type { return connector.TypeProcessor }

// ConfigSchema implements connector.Connector.
func (s *Script) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:        "script",
			Title:       "Script",
			Description: "JavaScript with `record` (per_record) or `records` (batch) in scope.",
			Type:        "string",
			Required:    true,
		},
		{
			Name:    "language",
			Title:   "Language",
			Type:    "string",
			Default: "javascript",
			Enum:    []any{"javascript"},
		},
		{
			Name:    "mode",
			Title:   "Mode",
			Type:    "string",
			Default: scriptModePerRecord,
			Enum:    []any{scriptModePerRecord, scriptModeBatch},
		},
	}
}

// Configure implements connector.Connector.
func (s *Script) Configure(config connector.Config) error {
	s.source = config.GetString("script")
	if s.source == "" {
		return fmt.Errorf("%w: script connector requires script", connector.ErrConfig)
	}
	if lang := config.GetStringDefault("language", "javascript"); lang != "javascript" {
		return fmt.Errorf("%w: unsupported language %q", connector.ErrConfig, lang)
	}
	s.mode = config.GetStringDefault("mode", scriptModePerRecord)
	if s.mode != scriptModePerRecord && s.mode != scriptModeBatch {
		return fmt.Errorf("%w: unsupported mode %q", connector.ErrConfig, s.mode)
	}
	return nil
}

// OutputSchema implements connector.Connector. Scripts can reshape records
// arbitrarily, so the declared schema is empty and the real one is inferred
// at runtime.
func (s *Script) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	return &envelope.DataSchema{}, nil
}

// ValidateInputSchema implements connector.Connector.
func (s *Script) ValidateInputSchema(*envelope.DataSchema) error { return nil }

// Execute implements connector.Connector.
func (s *Script) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	var out []envelope.Record

	switch s.mode {
	case scriptModeBatch:
		batch := make([]map[string]any, len(input.Data))
		for i, record := range input.Data {
			batch[i] = record.Clone()
		}
		produced, err := s.engine.RunBatch(ctx, s.source, batch)
		if err != nil {
			return nil, scriptError(err)
		}
		for _, record := range produced {
			out = append(out, envelope.Record(record))
		}
	default:
		for _, record := range input.Data {
			produced, err := s.engine.RunRecord(ctx, s.source, record.Clone())
			if err != nil {
				return nil, scriptError(err)
			}
			if produced == nil {
				continue
			}
			out = append(out, envelope.Record(produced))
		}
	}

	// Provenance of the reshaped fields stays with the upstream producers.
	schema := envelope.InferSchema(out, "")
	schema.SourceNodes = append([]string(nil), input.Metadata.Schema.SourceNodes...)

	preview := s.source
	if len(preview) > scriptPreviewLimit {
		preview = preview[:scriptPreviewLimit]
	}
	return &envelope.DataEnvelope{
		Data: out,
		Metadata: envelope.Metadata{
			RecordCount: len(out),
			Schema:      schema,
			Sources:     input.Metadata.Sources,
			Custom: map[string]any{
				"mode":   s.mode,
				"script": preview,
			},
		},
	}, nil
}

// scriptError classifies sandbox failures: interruption keeps its
// cancellation cause, type complaints map to the type error kind, anything
// else is a script error.
func scriptError(err error) error {
	if errors.Is(err, script.ErrInterrupted) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if strings.Contains(err.Error(), "want an object") {
		return fmt.Errorf("%w: %v", connector.ErrType, err)
	}
	return fmt.Errorf("%w: %v", connector.ErrScript, err)
}
