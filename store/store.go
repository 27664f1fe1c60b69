//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package store defines the record store consumed by the record-store
// connectors: named collections of user-scoped records with declared field
// types, filtering, sorting, and pagination.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known record fields maintained by every implementation.
const (
	FieldID      = "id"
	FieldUser    = "user"
	FieldCreated = "created"
	FieldUpdated = "updated"
)

// Sentinel errors shared by implementations.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrCollectionNotFound reports an undeclared collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Field declares one collection field. Type uses the PocketBase vocabulary
// (text, email, url, editor, number, bool, date, select, json, relation,
// file); connectors map it to the engine's closed type set.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Collection is the introspectable definition of one collection.
type Collection struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Query selects records from a collection. Filter is a conjunction of
// "field = value" terms joined with &&; Sort uses the PocketBase syntax
// ("-created,title"). Limit 0 means no limit.
type Query struct {
	Collection string
	Filter     string
	Sort       string
	Limit      int
	Offset     int
}

// RecordStore is the storage backend behind the record-store connectors.
type RecordStore interface {
	// Collection returns the declared definition of a collection, for schema
	// introspection. Fails with ErrCollectionNotFound.
	Collection(ctx context.Context, name string) (*Collection, error)

	// List returns records matching the query, in sort order.
	List(ctx context.Context, q Query) ([]map[string]any, error)

	// Get returns one record by id. Fails with ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]any, error)

	// Create inserts a record and returns its id.
	Create(ctx context.Context, collection string, record map[string]any) (string, error)

	// Update overwrites the given fields of an existing record. Fails with
	// ErrNotFound when the id does not exist.
	Update(ctx context.Context, collection, id string, record map[string]any) error
}

// FilterTerm is one parsed "field = value" condition.
type FilterTerm struct {
	Field string
	Value any
}

// ParseFilter parses a conjunction filter expression into terms. The
// grammar is deliberately small: `field = value` conditions joined with
// `&&`, values being single- or double-quoted strings, numbers, booleans,
// or bare words (treated as strings). It never passes raw SQL through.
func ParseFilter(filter string) ([]FilterTerm, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	parts := strings.Split(filter, "&&")
	terms := make([]FilterTerm, 0, len(parts))
	for _, part := range parts {
		eq := strings.Index(part, "=")
		if eq < 0 {
			return nil, fmt.Errorf("invalid filter term %q: want field = value", strings.TrimSpace(part))
		}
		field := strings.TrimSpace(part[:eq])
		raw := strings.TrimSpace(part[eq+1:])
		if field == "" || raw == "" {
			return nil, fmt.Errorf("invalid filter term %q: empty field or value", strings.TrimSpace(part))
		}
		if !validIdentifier(field) {
			return nil, fmt.Errorf("invalid filter field %q", field)
		}
		terms = append(terms, FilterTerm{Field: field, Value: parseFilterValue(raw)})
	}
	return terms, nil
}

// AndFilter conjoins two filter expressions, tolerating either being empty.
func AndFilter(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " && " + b
	}
}

// QuoteValue renders a string value as a quoted filter literal.
func QuoteValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
}

func parseFilterValue(raw string) any {
	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			inner := raw[1 : len(raw)-1]
			return strings.ReplaceAll(inner, "\\'", "'")
		}
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidIdentifier reports whether s is usable as a collection or field name.
func ValidIdentifier(s string) bool {
	return validIdentifier(s)
}
