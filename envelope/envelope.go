//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package envelope defines the canonical data envelope exchanged between
// workflow connectors: an ordered sequence of records plus metadata carrying
// the schema, provenance, and free-form connector annotations.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FieldType is the closed set of field types a schema can declare.
type FieldType string

const (
	// FieldTypeString is a plain string field.
	FieldTypeString FieldType = "string"
	// FieldTypeNumber is a 64-bit float field.
	FieldTypeNumber FieldType = "number"
	// FieldTypeBoolean is a boolean field.
	FieldTypeBoolean FieldType = "boolean"
	// FieldTypeDate is an RFC 3339 timestamp carried as a string.
	FieldTypeDate FieldType = "date"
	// FieldTypeJSON covers nested records and sequences.
	FieldTypeJSON FieldType = "json"
)

// Record is one unordered mapping from field name to value. Values are one
// of: nil, bool, float64, string, nested map, or slice. Connectors must not
// mutate records they receive; Clone produces a shallow copy for rewriting.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

// FieldDefinition describes one field of a schema.
type FieldDefinition struct {
	// Name is the field name, unique within a schema.
	Name string `json:"name"`

	// Type is one of the FieldType constants.
	Type FieldType `json:"type"`

	// SourceNode is the id of the node that originally produced this field.
	// It is carried through pass-through processors and updated on fields
	// newly created by a transform.
	SourceNode string `json:"source_node,omitempty"`

	// Nullable reports whether any observed record had a null for this field.
	Nullable bool `json:"nullable,omitempty"`

	// Description is an optional human-readable string.
	Description string `json:"description,omitempty"`
}

// DataSchema is an ordered sequence of field definitions together with the
// set of node ids that contributed fields. An empty Fields list marks a
// schema that is inferred at runtime.
type DataSchema struct {
	Fields      []FieldDefinition `json:"fields"`
	SourceNodes []string          `json:"source_nodes,omitempty"`
}

// IsEmpty reports whether the schema declares no fields, i.e. the producing
// connector could not introspect its output statically.
func (s DataSchema) IsEmpty() bool {
	return len(s.Fields) == 0
}

// Field returns the definition for the named field, if declared.
func (s DataSchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Metadata is the per-envelope metadata block.
type Metadata struct {
	// NodeID is the id of the node that produced this envelope. Merged
	// envelopes have no single producer and leave it empty.
	NodeID string `json:"node_id,omitempty"`

	// NodeType is the connector type id of the producer (e.g. "csv_source").
	NodeType string `json:"node_type,omitempty"`

	// RecordCount is the number of records this envelope accounts for. For
	// destinations it is the number of records written, not len(Data).
	RecordCount int `json:"record_count"`

	// ExecutionTimeMS is the wall time the producing node took, stamped by
	// the executor.
	ExecutionTimeMS int64 `json:"execution_time_ms,omitempty"`

	// Schema describes the fields of the records in Data.
	Schema DataSchema `json:"schema"`

	// Sources lists the node ids that contributed data to this envelope. It
	// is equal to or a superset of Schema.SourceNodes.
	Sources []string `json:"sources,omitempty"`

	// Custom carries free-form connector annotations such as file_path, url,
	// or status_code.
	Custom map[string]any `json:"custom,omitempty"`
}

// DataEnvelope is the unit of dataflow between nodes.
type DataEnvelope struct {
	Data     []Record `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Empty returns an envelope with no data and an empty schema.
func Empty() *DataEnvelope {
	return &DataEnvelope{Data: []Record{}}
}

// ErrMalformedEnvelope reports that a mapping's "data" value is present but
// is not a sequence of records.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// metadataKeys are the well-known metadata fields; anything else found in a
// deserialized metadata mapping is preserved under Custom.
var metadataKeys = map[string]bool{
	"node_id":           true,
	"node_type":         true,
	"record_count":      true,
	"execution_time_ms": true,
	"schema":            true,
	"sources":           true,
	"custom":            true,
}

// ToMap serializes the envelope into a neutral mapping with the two stable
// top-level keys "data" and "metadata". The output contains only JSON-safe
// values and never emits language-specific sentinels.
func (e *DataEnvelope) ToMap() map[string]any {
	raw, err := json.Marshal(e)
	if err != nil {
		// Records are JSON-safe by construction; a marshal failure means a
		// connector smuggled in a non-serializable value.
		return map[string]any{"data": []any{}, "metadata": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"data": []any{}, "metadata": map[string]any{}}
	}
	if out["data"] == nil {
		out["data"] = []any{}
	}
	if out["metadata"] == nil {
		out["metadata"] = map[string]any{}
	}
	return out
}

// FromMap deserializes a value into an envelope. It is tolerant of three
// shapes: the canonical {"data": [...], "metadata": {...}} mapping, a raw
// sequence of records (interpreted as data with empty metadata), and a
// legacy mapping carrying records under "records" instead of "data".
// Missing metadata fields receive zero values. It fails with
// ErrMalformedEnvelope only when a present data value is not a sequence of
// records.
func FromMap(v any) (*DataEnvelope, error) {
	switch value := v.(type) {
	case nil:
		return Empty(), nil
	case []Record:
		return &DataEnvelope{Data: cloneRecords(value)}, nil
	case []map[string]any:
		records := make([]Record, 0, len(value))
		for _, m := range value {
			records = append(records, Record(m))
		}
		return &DataEnvelope{Data: records}, nil
	case []any:
		records, err := recordsFromSequence(value)
		if err != nil {
			return nil, err
		}
		return &DataEnvelope{Data: records}, nil
	case map[string]any:
		return fromMapping(value)
	case *DataEnvelope:
		return value, nil
	default:
		return nil, fmt.Errorf("%w: unsupported shape %T", ErrMalformedEnvelope, v)
	}
}

func fromMapping(m map[string]any) (*DataEnvelope, error) {
	rawData, ok := m["data"]
	if !ok {
		// Legacy shape: records under "records".
		rawData = m["records"]
	}

	env := Empty()
	if rawData != nil {
		records, err := coerceRecords(rawData)
		if err != nil {
			return nil, err
		}
		env.Data = records
	}

	rawMeta, ok := m["metadata"].(map[string]any)
	if !ok {
		return env, nil
	}

	metaBytes, err := json.Marshal(rawMeta)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata not serializable: %v", ErrMalformedEnvelope, err)
	}
	if err := json.Unmarshal(metaBytes, &env.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	// Preserve unknown metadata keys under Custom.
	for k, v := range rawMeta {
		if metadataKeys[k] {
			continue
		}
		if env.Metadata.Custom == nil {
			env.Metadata.Custom = make(map[string]any)
		}
		env.Metadata.Custom[k] = v
	}

	return env, nil
}

func coerceRecords(raw any) ([]Record, error) {
	switch data := raw.(type) {
	case []Record:
		return cloneRecords(data), nil
	case []map[string]any:
		records := make([]Record, 0, len(data))
		for _, m := range data {
			records = append(records, Record(m))
		}
		return records, nil
	case []any:
		return recordsFromSequence(data)
	default:
		return nil, fmt.Errorf("%w: data is %T, want a sequence of records", ErrMalformedEnvelope, raw)
	}
}

func recordsFromSequence(seq []any) ([]Record, error) {
	records := make([]Record, 0, len(seq))
	for i, item := range seq {
		switch rec := item.(type) {
		case map[string]any:
			records = append(records, Record(rec))
		case Record:
			records = append(records, rec)
		default:
			return nil, fmt.Errorf("%w: data[%d] is %T, want a record", ErrMalformedEnvelope, i, item)
		}
	}
	return records, nil
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
