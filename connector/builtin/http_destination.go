//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// Serialization formats for outgoing batches.
const (
	formatJSONArray  = "json_array"
	formatJSONObject = "json_object"
	formatNDJSON     = "ndjson"
)

const (
	httpDestBatchDefault = 100
	httpDestBatchMax     = 1000
	retryAttemptsDefault = 3
	retryAttemptsMax     = 10
	retryDelayDefaultMS  = 1000
	retryDelayMinMS      = 100
	retryDelayMaxMS      = 10000
	errorSampleLimit     = 10
)

// HTTPDestination posts record batches to an HTTP endpoint with retry on
// transient failures. The node succeeds when at least one batch lands.
type HTTPDestination struct {
	client *http.Client

	url        string
	method     string
	headers    map[string]string
	batchSize  int
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	format     string
}

var _ connector.Connector = (*HTTPDestination)(nil)

// ID implements connector.Connector.
func (d *HTTPDestination) ID() string { return TypeHTTPDestination }

// Name implements connector.Connector.
func (d *HTTPDestination) Name() string { return "HTTP Destination" }

// Type implements connector.Connector.
func (d *HTTPDestination) Type() connector.Type { return connector.TypeDestination }

// ConfigSchema implements connector.Connector.
func (d *HTTPDestination) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:     "url",
			Title:    "URL",
			Type:     "string",
			Required: true,
		},
		{
			Name:    "method",
			Title:   "Method",
			Type:    "string",
			Default: http.MethodPost,
			Enum:    []any{"POST", "PUT", "PATCH"},
		},
		{
			Name:  "headers",
			Title: "Headers",
			Type:  "object",
		},
		{
			Name:        "batch_size",
			Title:       "Batch Size",
			Description: "Records per request; 0 sends everything in one request.",
			Type:        "number",
			Default:     httpDestBatchDefault,
			Minimum:     connector.Bound(0),
			Maximum:     connector.Bound(httpDestBatchMax),
		},
		{
			Name:    "timeout_seconds",
			Title:   "Timeout (seconds)",
			Type:    "number",
			Default: httpTimeoutDefault,
			Minimum: connector.Bound(httpTimeoutMin),
			Maximum: connector.Bound(httpTimeoutMax),
		},
		{
			Name:    "retry_attempts",
			Title:   "Retry Attempts",
			Type:    "number",
			Default: retryAttemptsDefault,
			Minimum: connector.Bound(0),
			Maximum: connector.Bound(retryAttemptsMax),
		},
		{
			Name:    "retry_delay_ms",
			Title:   "Retry Delay (ms)",
			Type:    "number",
			Default: retryDelayDefaultMS,
			Minimum: connector.Bound(retryDelayMinMS),
			Maximum: connector.Bound(retryDelayMaxMS),
		},
		{
			Name:    "format",
			Title:   "Payload Format",
			Type:    "string",
			Default: formatJSONArray,
			Enum:    []any{formatJSONArray, formatJSONObject, formatNDJSON},
		},
	}
}

// Configure implements connector.Connector.
func (d *HTTPDestination) Configure(config connector.Config) error {
	d.url = config.GetString("url")
	if d.url == "" {
		return fmt.Errorf("%w: http_destination requires url", connector.ErrConfig)
	}

	d.method = strings.ToUpper(config.GetStringDefault("method", http.MethodPost))
	switch d.method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("%w: unsupported method %q", connector.ErrConfig, d.method)
	}

	d.format = config.GetStringDefault("format", formatJSONArray)
	switch d.format {
	case formatJSONArray, formatJSONObject, formatNDJSON:
	default:
		return fmt.Errorf("%w: unsupported format %q", connector.ErrConfig, d.format)
	}

	d.headers = config.GetStringMap("headers")
	d.batchSize = clampInt(config.GetInt("batch_size", httpDestBatchDefault), 0, httpDestBatchMax)
	d.timeout = clampSeconds(config.GetInt("timeout_seconds", httpTimeoutDefault), httpTimeoutMin, httpTimeoutMax)
	d.retries = clampInt(config.GetInt("retry_attempts", retryAttemptsDefault), 0, retryAttemptsMax)
	delay := clampInt(config.GetInt("retry_delay_ms", retryDelayDefaultMS), retryDelayMinMS, retryDelayMaxMS)
	d.retryDelay = time.Duration(delay) * time.Millisecond
	return nil
}

// OutputSchema implements connector.Connector.
func (d *HTTPDestination) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := d.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return input, nil
}

// ValidateInputSchema implements connector.Connector.
func (d *HTTPDestination) ValidateInputSchema(input *envelope.DataSchema) error {
	if input == nil {
		return fmt.Errorf("%w: http_destination requires an input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector. Empty input is a success with
// zero records sent.
func (d *HTTPDestination) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	var (
		sent       int
		errorCount int
		samples    []string
	)

	batches := splitBatches(input.Data, d.batchSize)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.sendBatch(ctx, batch); err != nil {
			errorCount++
			if len(samples) < errorSampleLimit {
				samples = append(samples, err.Error())
			}
			continue
		}
		sent += len(batch)
	}

	if len(batches) > 0 && sent == 0 {
		return nil, fmt.Errorf("%w: all %d batches failed: %s",
			connector.ErrDestinationIO, errorCount, strings.Join(samples, "; "))
	}

	return &envelope.DataEnvelope{
		Data: []envelope.Record{},
		Metadata: envelope.Metadata{
			RecordCount: sent,
			Schema:      input.Metadata.Schema,
			Sources:     input.Metadata.Sources,
			Custom: map[string]any{
				"url":           d.url,
				"records_sent":  sent,
				"errors":        errorCount,
				"error_samples": samples,
			},
		},
	}, nil
}

// sendBatch serializes and sends one batch, retrying transient failures
// (transport errors, 5xx, 429). Other 4xx responses fail immediately.
func (d *HTTPDestination) sendBatch(ctx context.Context, batch []envelope.Record) error {
	payload, contentType, err := encodeBatch(batch, d.format)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}

		status, err := d.send(ctx, payload, contentType)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: %v", connector.ErrTransport, err)
		case status >= 200 && status <= 299:
			return nil
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = &connector.HTTPError{Status: status}
		default:
			return &connector.HTTPError{Status: status}
		}
	}
	return lastErr
}

func (d *HTTPDestination) send(ctx context.Context, payload []byte, contentType string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, d.method, d.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	for name, value := range d.headers {
		req.Header.Set(name, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func encodeBatch(batch []envelope.Record, format string) (payload []byte, contentType string, err error) {
	switch format {
	case formatJSONObject:
		payload, err = json.Marshal(map[string]any{"data": batch})
		return payload, "application/json", err
	case formatNDJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, record := range batch {
			if err := enc.Encode(record); err != nil {
				return nil, "", err
			}
		}
		return buf.Bytes(), "application/x-ndjson", nil
	default:
		payload, err = json.Marshal(batch)
		return payload, "application/json", err
	}
}

// splitBatches chunks records; size 0 means one batch holding everything.
func splitBatches(records []envelope.Record, size int) [][]envelope.Record {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 || size >= len(records) {
		return [][]envelope.Record{records}
	}
	var batches [][]envelope.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
