//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package envelope

import (
	"errors"
	"reflect"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &DataEnvelope{
		Data: []Record{
			{"name": "Alice", "age": float64(30), "active": true},
			{"name": "Bob", "age": float64(25), "active": false},
		},
		Metadata: Metadata{
			NodeID:      "src_1",
			NodeType:    "csv_source",
			RecordCount: 2,
			Schema: DataSchema{
				Fields: []FieldDefinition{
					{Name: "name", Type: FieldTypeString, SourceNode: "src_1", Nullable: true},
					{Name: "age", Type: FieldTypeNumber, SourceNode: "src_1"},
					{Name: "active", Type: FieldTypeBoolean, SourceNode: "src_1"},
				},
				SourceNodes: []string{"src_1"},
			},
			Sources: []string{"src_1"},
			Custom:  map[string]any{"file_path": "/tmp/users.csv"},
		},
	}

	m := env.ToMap()
	if _, ok := m["data"]; !ok {
		t.Fatalf("ToMap missing data key: %v", m)
	}
	if _, ok := m["metadata"]; !ok {
		t.Fatalf("ToMap missing metadata key: %v", m)
	}

	got, err := FromMap(m)
	if err != nil {
		t.Fatalf("FromMap returned error: %v", err)
	}
	if !reflect.DeepEqual(got, env) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, env)
	}
}

func TestFromMapShapes(t *testing.T) {
	tests := []struct {
		name        string
		input       any
		wantRecords int
		wantErr     bool
	}{
		{
			name:        "canonical mapping",
			input:       map[string]any{"data": []any{map[string]any{"a": "1"}}, "metadata": map[string]any{}},
			wantRecords: 1,
		},
		{
			name:        "raw sequence",
			input:       []any{map[string]any{"a": "1"}, map[string]any{"a": "2"}},
			wantRecords: 2,
		},
		{
			name:        "legacy records key",
			input:       map[string]any{"records": []any{map[string]any{"a": "1"}}},
			wantRecords: 1,
		},
		{
			name:        "nil input",
			input:       nil,
			wantRecords: 0,
		},
		{
			name:        "mapping without data",
			input:       map[string]any{"metadata": map[string]any{"node_id": "n1"}},
			wantRecords: 0,
		},
		{
			name:    "data is not a sequence",
			input:   map[string]any{"data": "oops"},
			wantErr: true,
		},
		{
			name:    "data contains a non-record",
			input:   map[string]any{"data": []any{"oops"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := FromMap(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Fatalf("want ErrMalformedEnvelope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(env.Data) != tt.wantRecords {
				t.Errorf("got %d records, want %d", len(env.Data), tt.wantRecords)
			}
		})
	}
}

func TestFromMapPreservesUnknownMetadataKeys(t *testing.T) {
	env, err := FromMap(map[string]any{
		"data": []any{},
		"metadata": map[string]any{
			"node_id": "n1",
			"extra":   "kept",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Metadata.Custom["extra"] != "kept" {
		t.Errorf("unknown metadata key not preserved in custom: %+v", env.Metadata.Custom)
	}
}
