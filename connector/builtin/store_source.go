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
	"fmt"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
	"trpc.group/trpc-go/trpc-dataflow-go/store"
)

const (
	storeBatchDefault = 100
	storeBatchMax     = 500
)

// storeSystemFields are backend bookkeeping keys stripped from returned
// records.
var storeSystemFields = []string{"collectionId", "collectionName", "expand"}

// StoreSource reads records from a record-store collection, scoped to the
// run's user unless explicitly disabled.
type StoreSource struct {
	store store.RecordStore

	collection       string
	filter           string
	sort             string
	batchSize        int
	maxRecords       int
	ignoreUserFilter bool
}

var _ connector.Connector = (*StoreSource)(nil)

// ID implements connector.Connector.
func (s *StoreSource) ID() string { return TypeStoreSource }

// Name implements connector.Connector.
func (s *StoreSource) Name() string { return "Record Store Source" }

// Type implements connector.Connector.
func (s *StoreSource) Type() connector.Type { return connector.TypeSource }

// ConfigSchema implements connector.Connector.
func (s *StoreSource) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:     "collection",
			Title:    "Collection",
			Type:     "string",
			Required: true,
		},
		{
			Name:        "filter",
			Title:       "Filter",
			Description: "Conjunction of field = value terms joined with &&.",
			Type:        "string",
		},
		{
			Name:        "sort",
			Title:       "Sort",
			Description: "Comma-separated field names, - prefix for descending.",
			Type:        "string",
		},
		{
			Name:    "batch_size",
			Title:   "Batch Size",
			Type:    "number",
			Default: storeBatchDefault,
			Minimum: connector.Bound(1),
			Maximum: connector.Bound(storeBatchMax),
		},
		{
			Name:        "max_records",
			Title:       "Max Records",
			Description: "0 reads the whole collection.",
			Type:        "number",
			Default:     0,
			Minimum:     connector.Bound(0),
		},
		{
			Name:        "ignore_user_filter",
			Title:       "Ignore User Filter",
			Description: "Read records of all users instead of only the run's user.",
			Type:        "boolean",
			Default:     false,
		},
	}
}

// Configure implements connector.Connector.
func (s *StoreSource) Configure(config connector.Config) error {
	s.collection = config.GetString("collection")
	if s.collection == "" {
		return fmt.Errorf("%w: store_source requires collection", connector.ErrConfig)
	}
	s.filter = config.GetString("filter")
	s.sort = config.GetString("sort")
	s.batchSize = clampInt(config.GetInt("batch_size", storeBatchDefault), 1, storeBatchMax)
	s.maxRecords = config.GetInt("max_records", 0)
	if s.maxRecords < 0 {
		s.maxRecords = 0
	}
	s.ignoreUserFilter = config.GetBool("ignore_user_filter", false)
	return nil
}

// OutputSchema implements connector.Connector. Collection introspection
// needs the live store, so the declared schema is empty.
func (s *StoreSource) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := s.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return &envelope.DataSchema{}, nil
}

// ValidateInputSchema implements connector.Connector.
func (s *StoreSource) ValidateInputSchema(input *envelope.DataSchema) error {
	if input != nil {
		return fmt.Errorf("%w: store_source accepts no input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector.
func (s *StoreSource) Execute(ctx context.Context, _ *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: no record store configured", connector.ErrConfig)
	}

	filter := s.filter
	if !s.ignoreUserFilter {
		user := connector.UserID(ctx)
		if user == "" {
			return nil, fmt.Errorf("%w: store_source requires a user id", connector.ErrAuth)
		}
		filter = store.AndFilter(filter, store.FieldUser+" = "+store.QuoteValue(user))
	}

	var records []envelope.Record
	for offset := 0; ; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		limit := s.batchSize
		if s.maxRecords > 0 && s.maxRecords-len(records) < limit {
			limit = s.maxRecords - len(records)
		}
		if limit <= 0 {
			break
		}

		page, err := s.store.List(ctx, store.Query{
			Collection: s.collection,
			Filter:     filter,
			Sort:       s.sort,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", connector.ErrSourceIO, s.collection, err)
		}
		for _, raw := range page {
			records = append(records, stripSystemFields(raw))
		}
		if len(page) < limit {
			break
		}
	}

	nodeID := connector.NodeID(ctx)
	schema, err := s.introspectSchema(ctx, nodeID)
	if err != nil {
		schema = envelope.InferSchema(records, nodeID)
	}

	return &envelope.DataEnvelope{
		Data: records,
		Metadata: envelope.Metadata{
			RecordCount: len(records),
			Schema:      schema,
			Custom:      map[string]any{"collection": s.collection},
		},
	}, nil
}

// introspectSchema builds the schema from the collection definition,
// mapping store field types onto the engine's closed set.
func (s *StoreSource) introspectSchema(ctx context.Context, nodeID string) (envelope.DataSchema, error) {
	col, err := s.store.Collection(ctx, s.collection)
	if err != nil {
		return envelope.DataSchema{}, err
	}

	schema := envelope.DataSchema{}
	if nodeID != "" {
		schema.SourceNodes = []string{nodeID}
	}
	for _, name := range []string{store.FieldID, store.FieldCreated, store.FieldUpdated} {
		schema.Fields = append(schema.Fields, envelope.FieldDefinition{
			Name:       name,
			Type:       envelope.FieldTypeString,
			SourceNode: nodeID,
		})
	}
	for _, f := range col.Fields {
		schema.Fields = append(schema.Fields, envelope.FieldDefinition{
			Name:       f.Name,
			Type:       mapStoreFieldType(f.Type),
			SourceNode: nodeID,
			Nullable:   true,
		})
	}
	return schema, nil
}

func mapStoreFieldType(storeType string) envelope.FieldType {
	switch storeType {
	case "number":
		return envelope.FieldTypeNumber
	case "bool":
		return envelope.FieldTypeBoolean
	case "json", "relation", "file":
		return envelope.FieldTypeJSON
	default:
		// text, email, url, editor, date, select.
		return envelope.FieldTypeString
	}
}

func stripSystemFields(raw map[string]any) envelope.Record {
	record := envelope.Record(raw)
	for _, key := range storeSystemFields {
		delete(record, key)
	}
	return record
}
