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

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// Converter passes records through unchanged. Its value is at the
// boundaries: upstream legacy envelope shapes arrive already normalized,
// and a missing schema is filled in by inference.
type Converter struct{}

var _ connector.Connector = (*Converter)(nil)

// ID implements connector.Connector.
func (c *Converter) ID() string { return TypeConverter }

// Name implements connector.Connector.
func (c *Converter) Name() string { return "Format Converter" }

// Type implements connector.Connector.
func (c *Converter) Type() connector.Type { return connector.TypeProcessor }

// ConfigSchema implements connector.Connector.
func (c *Converter) ConfigSchema() []connector.ParameterSchema { return nil }

// Configure implements connector.Connector.
func (c *Converter) Configure(connector.Config) error { return nil }

// OutputSchema implements connector.Connector.
func (c *Converter) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if input == nil {
		return &envelope.DataSchema{}, nil
	}
	return input, nil
}

// ValidateInputSchema implements connector.Connector.
func (c *Converter) ValidateInputSchema(*envelope.DataSchema) error { return nil }

// Execute implements connector.Connector.
func (c *Converter) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	schema := input.Metadata.Schema
	if schema.IsEmpty() {
		schema = envelope.InferSchema(input.Data, connector.NodeID(ctx))
	}
	return &envelope.DataEnvelope{
		Data: input.Data,
		Metadata: envelope.Metadata{
			RecordCount: len(input.Data),
			Schema:      schema,
			Sources:     input.Metadata.Sources,
		},
	}, nil
}
