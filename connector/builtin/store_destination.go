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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
	"trpc.group/trpc-go/trpc-dataflow-go/store"
)

// Write modes.
const (
	storeModeCreate = "create"
	storeModeUpdate = "update"
	storeModeUpsert = "upsert"
)

// StoreDestination writes records into a record-store collection with
// per-record error accumulation.
type StoreDestination struct {
	store store.RecordStore

	collection string
	mode       string
	idField    string
	batchSize  int
	userField  string
}

var _ connector.Connector = (*StoreDestination)(nil)

// ID implements connector.Connector.
func (d *StoreDestination) ID() string { return TypeStoreDestination }

// Name implements connector.Connector.
func (d *StoreDestination) Name() string { return "Record Store Destination" }

// Type implements connector.Connector.
func (d *StoreDestination) Type() connector.Type { return connector.TypeDestination }

// ConfigSchema implements connector.Connector.
func (d *StoreDestination) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:     "collection",
			Title:    "Collection",
			Type:     "string",
			Required: true,
		},
		{
			Name:    "mode",
			Title:   "Write Mode",
			Type:    "string",
			Default: storeModeCreate,
			Enum:    []any{storeModeCreate, storeModeUpdate, storeModeUpsert},
		},
		{
			Name:        "id_field",
			Title:       "ID Field",
			Description: "Record field holding the store id for update and upsert.",
			Type:        "string",
			Default:     store.FieldID,
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
			Name:        "user_field",
			Title:       "User Field",
			Description: "Field populated with the run's user id when the record lacks it.",
			Type:        "string",
			Default:     store.FieldUser,
		},
	}
}

// Configure implements connector.Connector.
func (d *StoreDestination) Configure(config connector.Config) error {
	d.collection = config.GetString("collection")
	if d.collection == "" {
		return fmt.Errorf("%w: store_destination requires collection", connector.ErrConfig)
	}
	d.mode = config.GetStringDefault("mode", storeModeCreate)
	switch d.mode {
	case storeModeCreate, storeModeUpdate, storeModeUpsert:
	default:
		return fmt.Errorf("%w: unsupported mode %q", connector.ErrConfig, d.mode)
	}
	d.idField = config.GetStringDefault("id_field", store.FieldID)
	d.batchSize = clampInt(config.GetInt("batch_size", storeBatchDefault), 1, storeBatchMax)
	d.userField = config.GetStringDefault("user_field", store.FieldUser)
	return nil
}

// OutputSchema implements connector.Connector.
func (d *StoreDestination) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := d.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return input, nil
}

// ValidateInputSchema implements connector.Connector.
func (d *StoreDestination) ValidateInputSchema(input *envelope.DataSchema) error {
	if input == nil {
		return fmt.Errorf("%w: store_destination requires an input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector. The node fails only when every
// record failed.
func (d *StoreDestination) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	if d.store == nil {
		return nil, fmt.Errorf("%w: no record store configured", connector.ErrConfig)
	}

	var (
		written    int
		errorCount int
		samples    []string
	)
	user := connector.UserID(ctx)

	for _, batch := range splitBatches(input.Data, d.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, record := range batch {
			if err := d.writeRecord(ctx, record, user); err != nil {
				errorCount++
				if len(samples) < errorSampleLimit {
					samples = append(samples, err.Error())
				}
				continue
			}
			written++
		}
	}

	if len(input.Data) > 0 && written == 0 {
		return nil, fmt.Errorf("%w: all %d records failed: %v",
			connector.ErrDestinationIO, errorCount, samples)
	}

	return &envelope.DataEnvelope{
		Data: []envelope.Record{},
		Metadata: envelope.Metadata{
			RecordCount: written,
			Schema:      input.Metadata.Schema,
			Sources:     input.Metadata.Sources,
			Custom: map[string]any{
				"collection":      d.collection,
				"records_written": written,
				"errors":          errorCount,
				"error_samples":   samples,
			},
		},
	}, nil
}

func (d *StoreDestination) writeRecord(ctx context.Context, record envelope.Record, user string) error {
	payload := map[string]any(record.Clone())
	if d.userField != "" && user != "" {
		if _, present := payload[d.userField]; !present {
			payload[d.userField] = user
		}
	}

	id, _ := payload[d.idField].(string)
	switch d.mode {
	case storeModeUpdate:
		if id == "" {
			return fmt.Errorf("record has no %s for update", d.idField)
		}
		return d.store.Update(ctx, d.collection, id, payload)
	case storeModeUpsert:
		if id != "" {
			err := d.store.Update(ctx, d.collection, id, payload)
			if err == nil || !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		_, err := d.store.Create(ctx, d.collection, payload)
		return err
	default:
		_, err := d.store.Create(ctx, d.collection, payload)
		return err
	}
}
