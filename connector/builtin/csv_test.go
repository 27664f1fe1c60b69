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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

func TestCSVSourceReadsHeaderedFile(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "uploads", "people.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("name,age,email\nAlice,30,alice@x\nBob,25,bob@x\n"), 0o644))

	src := &CSVSource{dataDir: dataDir}
	require.NoError(t, src.Configure(connector.Config{
		"file_path":  "uploads/people.csv",
		"has_header": true,
		"delimiter":  ",",
	}))

	ctx := connector.ContextWithNode(context.Background(), "node-1")
	env, err := src.Execute(ctx, nil)
	require.NoError(t, err)

	require.Len(t, env.Data, 2)
	assert.Equal(t, envelope.Record{"name": "Alice", "age": "30", "email": "alice@x"}, env.Data[0])
	assert.Equal(t, 2, env.Metadata.RecordCount)
	assert.Equal(t, path, env.Metadata.Custom["file_path"])

	require.Len(t, env.Metadata.Schema.Fields, 3)
	for i, name := range []string{"name", "age", "email"} {
		field := env.Metadata.Schema.Fields[i]
		assert.Equal(t, name, field.Name)
		assert.Equal(t, envelope.FieldTypeString, field.Type)
		assert.True(t, field.Nullable)
		assert.Equal(t, "node-1", field.SourceNode)
	}
}

func TestCSVSourceWithoutHeader(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "raw.csv"), []byte("a;1\nb;2\n"), 0o644))

	src := &CSVSource{dataDir: dataDir}
	require.NoError(t, src.Configure(connector.Config{
		"file_path":  "raw.csv",
		"has_header": false,
		"delimiter":  ";",
	}))

	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, env.Data, 2)
	assert.Equal(t, envelope.Record{"column_1": "a", "column_2": "1"}, env.Data[0])
}

func TestCSVSourceHeaderOnlyFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "empty.csv"), []byte("id,name\n"), 0o644))

	src := &CSVSource{dataDir: dataDir}
	require.NoError(t, src.Configure(connector.Config{"file_path": "empty.csv"}))

	env, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, env.Data)
	require.Len(t, env.Metadata.Schema.Fields, 2)
	assert.Equal(t, "id", env.Metadata.Schema.Fields[0].Name)
}

func TestCSVSourceErrors(t *testing.T) {
	src := &CSVSource{dataDir: t.TempDir()}

	err := src.Configure(connector.Config{})
	assert.ErrorIs(t, err, connector.ErrConfig)

	require.NoError(t, src.Configure(connector.Config{"file_path": "missing.csv"}))
	_, err = src.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, connector.ErrSourceIO)

	assert.ErrorIs(t, src.ValidateInputSchema(&envelope.DataSchema{}), connector.ErrSchema)
}

func TestCSVDestinationWritesFile(t *testing.T) {
	dataDir := t.TempDir()
	dst := &CSVDestination{dataDir: dataDir}
	require.NoError(t, dst.Configure(connector.Config{"file_path": "out.csv"}))

	input := &envelope.DataEnvelope{
		Data: []envelope.Record{
			{"name": "Alice", "age": float64(30)},
			{"name": "Bob"},
		},
		Metadata: envelope.Metadata{
			Schema: envelope.DataSchema{Fields: []envelope.FieldDefinition{
				{Name: "name", Type: envelope.FieldTypeString},
				{Name: "age", Type: envelope.FieldTypeNumber},
			}},
			Sources: []string{"src-1"},
		},
	}
	env, err := dst.Execute(context.Background(), input)
	require.NoError(t, err)

	resolved := filepath.Join(dataDir, "storage", "workflow_results", "out.csv")
	content, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "name,age\nAlice,30\nBob,\n", string(content))

	assert.Empty(t, env.Data)
	assert.Equal(t, 2, env.Metadata.RecordCount)
	assert.Equal(t, []string{"src-1"}, env.Metadata.Sources)
	assert.Equal(t, resolved, env.Metadata.Custom["file_path"])
	assert.Equal(t, true, env.Metadata.Custom["success"])
}

func TestCSVDestinationAppendSkipsHeader(t *testing.T) {
	dataDir := t.TempDir()
	input := func() *envelope.DataEnvelope {
		return &envelope.DataEnvelope{Data: []envelope.Record{{"id": "1"}}}
	}

	dst := &CSVDestination{dataDir: dataDir}
	require.NoError(t, dst.Configure(connector.Config{"file_path": "log.csv", "append": true}))
	_, err := dst.Execute(context.Background(), input())
	require.NoError(t, err)
	_, err = dst.Execute(context.Background(), input())
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dataDir, "storage", "workflow_results", "log.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n1\n", string(content))
}

func TestCSVDestinationEmptyInput(t *testing.T) {
	dst := &CSVDestination{dataDir: t.TempDir()}
	require.NoError(t, dst.Configure(connector.Config{"file_path": "out.csv"}))

	_, err := dst.Execute(context.Background(), envelope.Empty())
	assert.ErrorIs(t, err, connector.ErrEmptyInput)
}

func TestResolvePathsRejectEscapes(t *testing.T) {
	for _, path := range []string{"../secrets.csv", "/etc/passwd", ""} {
		if _, err := resolveSourcePath("/data", path); err == nil {
			t.Errorf("resolveSourcePath(%q) should fail", path)
		}
	}
	if _, err := resolveDestinationPath("/data", "../../escape.csv"); err == nil {
		t.Error("resolveDestinationPath should reject traversal")
	}

	resolved, err := resolveDestinationPath("/data", "uploads/in.csv")
	if err != nil || resolved != "/data/uploads/in.csv" {
		t.Errorf("uploads path resolved to %q (%v)", resolved, err)
	}
	resolved, err = resolveDestinationPath("/data", "report.csv")
	if err != nil || resolved != "/data/storage/workflow_results/report.csv" {
		t.Errorf("results path resolved to %q (%v)", resolved, err)
	}
}
