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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

const (
	httpTimeoutDefault = 30
	httpTimeoutMin     = 1
	httpTimeoutMax     = 300
)

// HTTPSource fetches records from an HTTP endpoint. JSON responses are
// decoded into records; anything else becomes a single record with a body
// field.
type HTTPSource struct {
	client *http.Client

	url         string
	method      string
	headers     map[string]string
	body        string
	timeout     time.Duration
	failOnError bool
}

var _ connector.Connector = (*HTTPSource)(nil)

// ID implements connector.Connector.
func (s *HTTPSource) ID() string { return TypeHTTPSource }

// Name implements connector.Connector.
func (s *HTTPSource) Name() string { return "HTTP Source" }

// Type implements connector.Connector.
func (s *HTTPSource) Type() connector.Type { return connector.TypeSource }

// ConfigSchema implements connector.Connector.
func (s *HTTPSource) ConfigSchema() []connector.ParameterSchema {
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
			Default: http.MethodGet,
			Enum:    []any{"GET", "POST", "PUT", "PATCH", "DELETE"},
		},
		{
			Name:        "headers",
			Title:       "Headers",
			Description: "Request headers as name/value pairs.",
			Type:        "object",
		},
		{
			Name:  "body",
			Title: "Request Body",
			Type:  "string",
		},
		{
			Name:    "timeout",
			Title:   "Timeout (seconds)",
			Type:    "number",
			Default: httpTimeoutDefault,
			Minimum: connector.Bound(httpTimeoutMin),
			Maximum: connector.Bound(httpTimeoutMax),
		},
		{
			Name:        "fail_on_error",
			Title:       "Fail On HTTP Error",
			Description: "Treat non-2xx responses as a node failure instead of parsing the body.",
			Type:        "boolean",
			Default:     false,
		},
	}
}

// Configure implements connector.Connector.
func (s *HTTPSource) Configure(config connector.Config) error {
	s.url = config.GetString("url")
	if s.url == "" {
		return fmt.Errorf("%w: http_source requires url", connector.ErrConfig)
	}

	s.method = strings.ToUpper(config.GetStringDefault("method", http.MethodGet))
	switch s.method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", connector.ErrConfig, s.method)
	}

	s.headers = config.GetStringMap("headers")
	s.body = config.GetString("body")
	s.timeout = clampSeconds(config.GetInt("timeout", httpTimeoutDefault), httpTimeoutMin, httpTimeoutMax)
	s.failOnError = config.GetBool("fail_on_error", false)
	return nil
}

// OutputSchema implements connector.Connector. The response shape is only
// known at runtime, so the declared schema is empty.
func (s *HTTPSource) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := s.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return &envelope.DataSchema{}, nil
}

// ValidateInputSchema implements connector.Connector.
func (s *HTTPSource) ValidateInputSchema(input *envelope.DataSchema) error {
	if input != nil {
		return fmt.Errorf("%w: http_source accepts no input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector.
func (s *HTTPSource) Execute(ctx context.Context, _ *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	// The stricter of the connector timeout and any caller deadline wins.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reqBody io.Reader
	if s.body != "" {
		reqBody = strings.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, s.url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", connector.ErrConfig, err)
	}
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", connector.ErrTransport, s.method, s.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", connector.ErrTransport, err)
	}
	if s.failOnError && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, fmt.Errorf("%s %s: %w", s.method, s.url, &connector.HTTPError{Status: resp.StatusCode})
	}

	records := decodeResponseRecords(raw)
	nodeID := connector.NodeID(ctx)
	return &envelope.DataEnvelope{
		Data: records,
		Metadata: envelope.Metadata{
			RecordCount: len(records),
			Schema:      envelope.InferSchema(records, nodeID),
			Custom: map[string]any{
				"url":         s.url,
				"method":      s.method,
				"status_code": resp.StatusCode,
			},
		},
	}, nil
}

// decodeResponseRecords turns a response body into records. Preference
// order: top-level JSON array, then a data or items array inside a JSON
// object, then the object itself as one record. Non-JSON bodies become a
// single record holding the raw text.
func decodeResponseRecords(raw []byte) []envelope.Record {
	text := func() []envelope.Record {
		return []envelope.Record{{"body": string(raw)}}
	}
	if len(raw) == 0 {
		return []envelope.Record{}
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return text()
	}
	switch v := decoded.(type) {
	case []any:
		records, ok := recordSequence(v)
		if !ok {
			return text()
		}
		return records
	case map[string]any:
		for _, key := range []string{"data", "items"} {
			if seq, isSeq := v[key].([]any); isSeq {
				if records, ok := recordSequence(seq); ok {
					return records
				}
			}
		}
		return []envelope.Record{envelope.Record(v)}
	default:
		return text()
	}
}

func recordSequence(seq []any) ([]envelope.Record, bool) {
	records := make([]envelope.Record, 0, len(seq))
	for _, item := range seq {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		records = append(records, envelope.Record(m))
	}
	return records, true
}

func clampSeconds(v, min, max int) time.Duration {
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return time.Duration(v) * time.Second
}
