//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package sqlite provides a SQLite-backed record store. Collections are
// declared up front in a meta table and materialized as one table each;
// records round-trip json-typed fields through TEXT columns. The caller is
// responsible for importing a "sqlite" database/sql driver (e.g.
// modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"

	"trpc.group/trpc-go/trpc-dataflow-go/store"
)

const (
	metaTable = "_collections"

	createMetaTable = "CREATE TABLE IF NOT EXISTS _collections (" +
		"name TEXT PRIMARY KEY, " +
		"fields TEXT NOT NULL" +
		")"
)

// Store is a store.RecordStore backed by a SQLite database.
type Store struct {
	db *dbx.DB
}

var _ store.RecordStore = (*Store)(nil)

// Open opens (creating if needed) a SQLite record store at the given path.
func Open(path string) (*Store, error) {
	db, err := dbx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.NewQuery(createMetaTable).Execute(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCollection declares a collection and materializes its table. It is
// idempotent for identical declarations.
func (s *Store) CreateCollection(ctx context.Context, col store.Collection) error {
	if !store.ValidIdentifier(col.Name) {
		return fmt.Errorf("invalid collection name %q", col.Name)
	}
	for _, f := range col.Fields {
		if !store.ValidIdentifier(f.Name) {
			return fmt.Errorf("collection %s: invalid field name %q", col.Name, f.Name)
		}
	}

	fields, err := json.Marshal(col.Fields)
	if err != nil {
		return fmt.Errorf("collection %s: encode fields: %w", col.Name, err)
	}

	upsert := "INSERT INTO _collections (name, fields) VALUES ({:name}, {:fields}) " +
		"ON CONFLICT(name) DO UPDATE SET fields = {:fields}"
	q := s.db.NewQuery(upsert).Bind(dbx.Params{"name": col.Name, "fields": string(fields)})
	if _, err := q.WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("collection %s: register: %w", col.Name, err)
	}

	cols := []string{
		"id TEXT PRIMARY KEY",
		"user TEXT",
		"created TEXT",
		"updated TEXT",
	}
	for _, f := range col.Fields {
		if isSystemField(f.Name) {
			continue
		}
		cols = append(cols, f.Name+" "+columnType(f.Type))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", col.Name, strings.Join(cols, ", "))
	if _, err := s.db.NewQuery(create).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("collection %s: create table: %w", col.Name, err)
	}
	return nil
}

// Collection returns the declared definition of a collection.
func (s *Store) Collection(ctx context.Context, name string) (*store.Collection, error) {
	var row struct {
		Name   string `db:"name"`
		Fields string `db:"fields"`
	}
	err := s.db.Select("name", "fields").
		From(metaTable).
		Where(dbx.HashExp{"name": name}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", store.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}

	col := &store.Collection{Name: row.Name}
	if err := json.Unmarshal([]byte(row.Fields), &col.Fields); err != nil {
		return nil, fmt.Errorf("collection %s: decode fields: %w", name, err)
	}
	return col, nil
}

// List returns records matching the query.
func (s *Store) List(ctx context.Context, q store.Query) ([]map[string]any, error) {
	col, err := s.Collection(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	terms, err := store.ParseFilter(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", q.Collection, err)
	}

	sq := s.db.Select("*").From(col.Name).WithContext(ctx)
	if len(terms) > 0 {
		exps := make([]dbx.Expression, 0, len(terms))
		for _, t := range terms {
			exps = append(exps, dbx.HashExp{t.Field: t.Value})
		}
		sq = sq.Where(dbx.And(exps...))
	}
	if order := orderClauses(q.Sort); len(order) > 0 {
		sq = sq.OrderBy(order...)
	}
	if q.Limit > 0 {
		sq = sq.Limit(int64(q.Limit))
	}
	if q.Offset > 0 {
		sq = sq.Offset(int64(q.Offset))
	}

	var rows []dbx.NullStringMap
	if err := sq.All(&rows); err != nil {
		return nil, fmt.Errorf("collection %s: list: %w", q.Collection, err)
	}

	records := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(col, row))
	}
	return records, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	col, err := s.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	var row dbx.NullStringMap
	err = s.db.Select("*").
		From(col.Name).
		Where(dbx.HashExp{store.FieldID: id}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("collection %s: get %s: %w", collection, id, err)
	}
	return rowToRecord(col, row), nil
}

// Create inserts a record and returns its generated id. An "id" value in the
// record is honored when present.
func (s *Store) Create(ctx context.Context, collection string, record map[string]any) (string, error) {
	col, err := s.Collection(ctx, collection)
	if err != nil {
		return "", err
	}

	id, _ := record[store.FieldID].(string)
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	params := recordToParams(col, record)
	params[store.FieldID] = id
	params[store.FieldCreated] = now
	params[store.FieldUpdated] = now
	if _, ok := params[store.FieldUser]; !ok {
		if user, ok := record[store.FieldUser].(string); ok {
			params[store.FieldUser] = user
		}
	}

	if _, err := s.db.Insert(col.Name, params).WithContext(ctx).Execute(); err != nil {
		return "", fmt.Errorf("collection %s: create: %w", collection, err)
	}
	return id, nil
}

// Update overwrites the given fields of an existing record.
func (s *Store) Update(ctx context.Context, collection, id string, record map[string]any) error {
	col, err := s.Collection(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := s.Get(ctx, collection, id); err != nil {
		return err
	}

	params := recordToParams(col, record)
	delete(params, store.FieldID)
	params[store.FieldUpdated] = time.Now().UTC().Format(time.RFC3339)

	q := s.db.Update(col.Name, params, dbx.HashExp{store.FieldID: id})
	if _, err := q.WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("collection %s: update %s: %w", collection, id, err)
	}
	return nil
}

func isSystemField(name string) bool {
	switch name {
	case store.FieldID, store.FieldUser, store.FieldCreated, store.FieldUpdated:
		return true
	}
	return false
}

func columnType(fieldType string) string {
	switch fieldType {
	case "number":
		return "REAL"
	case "bool":
		return "INTEGER"
	default:
		// text, email, url, editor, date, select, json, relation, file.
		return "TEXT"
	}
}

// orderClauses translates PocketBase sort syntax ("-created,title") into
// ORDER BY clauses.
func orderClauses(sort string) []string {
	if strings.TrimSpace(sort) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(sort, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dir := "ASC"
		if strings.HasPrefix(part, "-") {
			dir = "DESC"
			part = part[1:]
		} else {
			part = strings.TrimPrefix(part, "+")
		}
		if !store.ValidIdentifier(part) {
			continue
		}
		out = append(out, part+" "+dir)
	}
	return out
}

// recordToParams keeps only declared, non-system fields and flattens values
// into column representations.
func recordToParams(col *store.Collection, record map[string]any) dbx.Params {
	params := dbx.Params{}
	for _, f := range col.Fields {
		if isSystemField(f.Name) {
			continue
		}
		value, ok := record[f.Name]
		if !ok {
			continue
		}
		params[f.Name] = columnValue(f.Type, value)
	}
	if user, ok := record[store.FieldUser].(string); ok && user != "" {
		params[store.FieldUser] = user
	}
	return params
}

func columnValue(fieldType string, value any) any {
	if value == nil {
		return nil
	}
	switch fieldType {
	case "number":
		switch v := value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return value
	case "bool":
		if b, ok := value.(bool); ok {
			if b {
				return 1
			}
			return 0
		}
		return value
	case "json", "relation", "file":
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(b)
	default:
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	}
}

// rowToRecord converts a raw row back into a typed record using the
// collection's declared field types.
func rowToRecord(col *store.Collection, row dbx.NullStringMap) map[string]any {
	types := make(map[string]string, len(col.Fields))
	for _, f := range col.Fields {
		types[f.Name] = f.Type
	}

	record := make(map[string]any, len(row))
	for name, value := range row {
		if !value.Valid {
			record[name] = nil
			continue
		}
		switch types[name] {
		case "number":
			if f, err := strconv.ParseFloat(value.String, 64); err == nil {
				record[name] = f
			} else {
				record[name] = value.String
			}
		case "bool":
			record[name] = value.String == "1" || value.String == "true"
		case "json", "relation", "file":
			var decoded any
			if err := json.Unmarshal([]byte(value.String), &decoded); err == nil {
				record[name] = decoded
			} else {
				record[name] = value.String
			}
		default:
			record[name] = value.String
		}
	}
	return record
}
