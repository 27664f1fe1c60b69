//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package connector

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by connectors. They are matched with errors.Is; the
// engine wraps them into workflow.NodeError with the failing node id.
var (
	// ErrConfig reports configuration missing a required field or violating
	// the connector's declared schema.
	ErrConfig = errors.New("invalid connector configuration")

	// ErrSchema reports a schema validation failure (source given input,
	// destination given none).
	ErrSchema = errors.New("schema validation failed")

	// ErrEmptyInput reports a destination invoked with no data.
	ErrEmptyInput = errors.New("input envelope has no data")

	// ErrAuth reports a missing user identity for a connector that requires
	// one.
	ErrAuth = errors.New("run context carries no user identity")

	// ErrSourceIO reports an I/O failure while reading from a source.
	ErrSourceIO = errors.New("source I/O failed")

	// ErrDestinationIO reports an I/O failure while writing to a destination.
	ErrDestinationIO = errors.New("destination I/O failed")

	// ErrTransport reports a network-level request failure (connect, DNS,
	// timeout).
	ErrTransport = errors.New("transport request failed")

	// ErrDecode reports malformed data inside a connector (bad CSV, bad
	// JSON).
	ErrDecode = errors.New("malformed input data")

	// ErrType reports a value of an unexpected type, e.g. a script returning
	// something that is not a record.
	ErrType = errors.New("unexpected value type")

	// ErrScript reports a script parse or runtime failure.
	ErrScript = errors.New("script execution failed")

	// ErrUnknownConnector reports a registry lookup for an unregistered type
	// id.
	ErrUnknownConnector = errors.New("unknown connector type")
)

// HTTPError reports a non-2xx response treated as a failure.
type HTTPError struct {
	Status int
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http request failed with status %d", e.Status)
}
