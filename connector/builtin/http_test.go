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
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

func newHTTPSource(t *testing.T, config connector.Config) *HTTPSource {
	t.Helper()
	src := &HTTPSource{client: http.DefaultClient}
	require.NoError(t, src.Configure(config))
	return src
}

func TestHTTPSourceDecodesArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":1,"name":"a"},{"id":2,"name":"b"}]`)
	}))
	defer srv.Close()

	src := newHTTPSource(t, connector.Config{"url": srv.URL})
	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, env.Data, 2)
	assert.Equal(t, float64(1), env.Data[0]["id"])
	assert.Equal(t, srv.URL, env.Metadata.Custom["url"])
	assert.Equal(t, http.StatusOK, env.Metadata.Custom["status_code"])

	byName := map[string]envelope.FieldDefinition{}
	for _, f := range env.Metadata.Schema.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, envelope.FieldTypeNumber, byName["id"].Type)
	assert.Equal(t, envelope.FieldTypeString, byName["name"].Type)
}

func TestHTTPSourceDecodesNestedData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"id":"a"}],"total":1}`)
	}))
	defer srv.Close()

	src := newHTTPSource(t, connector.Config{"url": srv.URL})
	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "a", env.Data[0]["id"])
}

func TestHTTPSourceWrapsSingleObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"healthy"}`)
	}))
	defer srv.Close()

	src := newHTTPSource(t, connector.Config{"url": srv.URL})
	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "healthy", env.Data[0]["status"])
}

func TestHTTPSourceTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain text body")
	}))
	defer srv.Close()

	src := newHTTPSource(t, connector.Config{"url": srv.URL})
	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "plain text body", env.Data[0]["body"])
}

func TestHTTPSourceNonFatalStatusByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"down"}`)
	}))
	defer srv.Close()

	src := newHTTPSource(t, connector.Config{"url": srv.URL})
	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, env.Metadata.Custom["status_code"])

	src = newHTTPSource(t, connector.Config{"url": srv.URL, "fail_on_error": true})
	_, err = src.Execute(context.Background(), nil)
	var httpErr *connector.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
}

func TestHTTPSourceConfigErrors(t *testing.T) {
	src := &HTTPSource{client: http.DefaultClient}
	assert.ErrorIs(t, src.Configure(connector.Config{}), connector.ErrConfig)
	assert.ErrorIs(t, src.Configure(connector.Config{"url": "http://x", "method": "BREW"}), connector.ErrConfig)
}

func TestHTTPDestinationRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dst := &HTTPDestination{client: http.DefaultClient}
	require.NoError(t, dst.Configure(connector.Config{
		"url":            srv.URL,
		"retry_attempts": 2,
		"retry_delay_ms": 100,
	}))

	input := &envelope.DataEnvelope{Data: []envelope.Record{{"id": "1"}, {"id": "2"}}}
	env, err := dst.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, env.Metadata.Custom["records_sent"])
	assert.Equal(t, 0, env.Metadata.Custom["errors"])
}

func TestHTTPDestinationNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	dst := &HTTPDestination{client: http.DefaultClient}
	require.NoError(t, dst.Configure(connector.Config{
		"url":            srv.URL,
		"retry_attempts": 3,
		"retry_delay_ms": 100,
	}))

	_, err := dst.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"id": "1"}},
	})
	assert.ErrorIs(t, err, connector.ErrDestinationIO)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDestinationPartialBatchSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dst := &HTTPDestination{client: http.DefaultClient}
	require.NoError(t, dst.Configure(connector.Config{
		"url":            srv.URL,
		"batch_size":     1,
		"retry_attempts": 0,
		"retry_delay_ms": 100,
	}))

	env, err := dst.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"id": "1"}, {"id": "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.Metadata.Custom["records_sent"])
	assert.Equal(t, 1, env.Metadata.Custom["errors"])
	samples := env.Metadata.Custom["error_samples"].([]string)
	require.Len(t, samples, 1)
}

func TestHTTPDestinationFormats(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	input := func() *envelope.DataEnvelope {
		return &envelope.DataEnvelope{Data: []envelope.Record{{"id": "1"}, {"id": "2"}}}
	}

	dst := &HTTPDestination{client: http.DefaultClient}
	require.NoError(t, dst.Configure(connector.Config{"url": srv.URL, "format": "json_object"}))
	_, err := dst.Execute(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	var wrapped map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &wrapped))
	assert.Len(t, wrapped["data"], 2)

	require.NoError(t, dst.Configure(connector.Config{"url": srv.URL, "format": "ndjson"}))
	_, err = dst.Execute(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", gotContentType)
	assert.Equal(t, "{\"id\":\"1\"}\n{\"id\":\"2\"}\n", gotBody)
}

func TestHTTPDestinationEmptyInputSucceeds(t *testing.T) {
	dst := &HTTPDestination{client: http.DefaultClient}
	require.NoError(t, dst.Configure(connector.Config{"url": "http://unreachable.invalid"}))

	env, err := dst.Execute(context.Background(), envelope.Empty())
	require.NoError(t, err)
	assert.Equal(t, 0, env.Metadata.Custom["records_sent"])
}
