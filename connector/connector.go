//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package connector defines the uniform contract every workflow connector
// implements, the configuration helpers shared by connectors, and the
// type-keyed factory registry the execution engine dispatches through.
package connector

import (
	"context"

	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// Type classifies a connector's role in the graph.
type Type string

const (
	// TypeSource produces records and accepts no input.
	TypeSource Type = "source"
	// TypeProcessor transforms records.
	TypeProcessor Type = "processor"
	// TypeDestination consumes records and has no successors.
	TypeDestination Type = "destination"
)

// Connector is the capability set every connector implements. Instances are
// created per node per run, configured once, executed once, and released.
type Connector interface {
	// ID returns the stable connector type id (e.g. "csv_source").
	ID() string

	// Name returns the human-readable connector name.
	Name() string

	// Type returns the connector's role.
	Type() Type

	// ConfigSchema describes the accepted configuration for editors and
	// validation.
	ConfigSchema() []ParameterSchema

	// Configure validates and stores the node's static configuration. It is
	// idempotent and fails with ErrConfig on invalid input.
	Configure(config Config) error

	// OutputSchema statically declares the output shape given the input
	// shape. Sources refuse any non-nil input. When static inference is
	// impossible the returned schema is empty, signalling that the schema is
	// inferred at runtime.
	OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error)

	// ValidateInputSchema checks the declared input shape: sources refuse a
	// non-nil schema, destinations refuse a nil one, processors accept any.
	ValidateInputSchema(input *envelope.DataSchema) error

	// Execute performs the work. The context carries the run's deadline and
	// the authenticated user id (see UserID).
	Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error)
}

// ParameterSchema describes one configuration parameter. It is the
// JSON-schema-like subset consumed by external editors: type, title,
// description, required, default, enum, minimum, maximum, and nested
// properties.
type ParameterSchema struct {
	Name        string            `json:"name"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Required    bool              `json:"required,omitempty"`
	Default     any               `json:"default,omitempty"`
	Enum        []any             `json:"enum,omitempty"`
	Minimum     *float64          `json:"minimum,omitempty"`
	Maximum     *float64          `json:"maximum,omitempty"`
	Properties  []ParameterSchema `json:"properties,omitempty"`
}

// floatPtr is a convenience for Minimum/Maximum literals in config schemas.
func floatPtr(v float64) *float64 { return &v }

// Bound returns a pointer to v for use in ParameterSchema Minimum/Maximum.
func Bound(v float64) *float64 { return floatPtr(v) }
