//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package workflow

import (
	"errors"
	"fmt"
)

// Graph-level validation errors.
var (
	// ErrInvalidGraph reports a malformed definition: missing ids, dangling
	// edge endpoints, sources with inputs, destinations with outputs.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrCyclicGraph reports a cycle. It is raised before any connector is
	// instantiated.
	ErrCyclicGraph = errors.New("cyclic graph")
)

// Outcome is the terminal state of one run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// NodeError tags a connector failure with the failing node. It is the cause
// reported for a failed run.
type NodeError struct {
	NodeID        string
	ConnectorType string
	Err           error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.ConnectorType, e.Err)
}

// Unwrap returns the underlying connector error.
func (e *NodeError) Unwrap() error {
	return e.Err
}
