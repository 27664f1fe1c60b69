//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package envelope

import (
	"reflect"
	"sort"
	"time"
)

// InferSchema derives a schema from observed record contents. The first
// observation of each field name fixes its type (see InferFieldType); any
// later null observation marks the field nullable. Field names from
// different records are merged as a union, ordered by first observation.
// SourceNodes contains only the producing node id, or is empty when none is
// supplied.
func InferSchema(records []Record, producingNodeID string) DataSchema {
	schema := DataSchema{Fields: []FieldDefinition{}}
	if producingNodeID != "" {
		schema.SourceNodes = []string{producingNodeID}
	}

	index := make(map[string]int)
	for _, record := range records {
		// Records are unordered mappings; sort keys so that inference is
		// deterministic across runs.
		for _, name := range SortedKeys(record) {
			value := record[name]
			if i, seen := index[name]; seen {
				if value == nil {
					schema.Fields[i].Nullable = true
				}
				continue
			}
			fieldType, nullable := InferFieldType(value)
			index[name] = len(schema.Fields)
			schema.Fields = append(schema.Fields, FieldDefinition{
				Name:       name,
				Type:       fieldType,
				SourceNode: producingNodeID,
				Nullable:   nullable,
			})
		}
	}
	return schema
}

// SortedKeys returns the record's field names in lexicographic order.
func SortedKeys(record Record) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InferFieldType maps a record value to the closed field type set. Booleans
// map to boolean, any integer or floating value to number, time values and
// RFC 3339 strings to date, other strings to string, sequences and nested
// records to json. A nil value defaults to string and reports nullable.
func InferFieldType(value any) (fieldType FieldType, nullable bool) {
	switch v := value.(type) {
	case nil:
		return FieldTypeString, true
	case bool:
		return FieldTypeBoolean, false
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return FieldTypeNumber, false
	case time.Time:
		return FieldTypeDate, false
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return FieldTypeDate, false
		}
		return FieldTypeString, false
	case Record, map[string]any, []any:
		return FieldTypeJSON, false
	}

	// Uncommon shapes (typed slices, typed maps) still classify as json.
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return FieldTypeJSON, false
	default:
		return FieldTypeString, false
	}
}
