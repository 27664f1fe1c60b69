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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// CSVDestination writes records to a delimited file under the workflow
// results directory (or the uploads area when the path says so).
type CSVDestination struct {
	dataDir string

	filePath      string
	delimiter     rune
	includeHeader bool
	appendMode    bool
}

var _ connector.Connector = (*CSVDestination)(nil)

// ID implements connector.Connector.
func (d *CSVDestination) ID() string { return TypeCSVDestination }

// Name implements connector.Connector.
func (d *CSVDestination) Name() string { return "CSV Destination" }

// Type implements connector.Connector.
func (d *CSVDestination) Type() connector.Type { return connector.TypeDestination }

// ConfigSchema implements connector.Connector.
func (d *CSVDestination) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:        "file_path",
			Title:       "File Path",
			Description: "Output file name; resolves under the workflow results directory unless prefixed with uploads/.",
			Type:        "string",
			Required:    true,
		},
		{
			Name:    "delimiter",
			Title:   "Delimiter",
			Type:    "string",
			Default: ",",
		},
		{
			Name:    "include_header",
			Title:   "Include Header Row",
			Type:    "boolean",
			Default: true,
		},
		{
			Name:        "append",
			Title:       "Append",
			Description: "Append to an existing file instead of overwriting it.",
			Type:        "boolean",
			Default:     false,
		},
	}
}

// Configure implements connector.Connector.
func (d *CSVDestination) Configure(config connector.Config) error {
	d.filePath = config.GetString("file_path")
	if d.filePath == "" {
		return fmt.Errorf("%w: csv_destination requires file_path", connector.ErrConfig)
	}
	delimiter, err := singleRune(config.GetStringDefault("delimiter", ","), "delimiter")
	if err != nil {
		return err
	}
	d.delimiter = delimiter
	d.includeHeader = config.GetBool("include_header", true)
	d.appendMode = config.GetBool("append", false)
	return nil
}

// OutputSchema implements connector.Connector.
func (d *CSVDestination) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := d.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return input, nil
}

// ValidateInputSchema implements connector.Connector. An empty schema is
// accepted because upstream sources may only know their shape at runtime.
func (d *CSVDestination) ValidateInputSchema(input *envelope.DataSchema) error {
	if input == nil {
		return fmt.Errorf("%w: csv_destination requires an input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector.
func (d *CSVDestination) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	if input == nil || len(input.Data) == 0 {
		return nil, fmt.Errorf("%w: csv_destination received no records", connector.ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved, err := resolveDestinationPath(d.dataDir, d.filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrConfig, err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", connector.ErrDestinationIO, filepath.Dir(resolved), err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if d.appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", connector.ErrDestinationIO, resolved, err)
	}
	defer f.Close()

	writeHeader := d.includeHeader
	if d.appendMode {
		if info, statErr := f.Stat(); statErr == nil && info.Size() > 0 {
			writeHeader = false
		}
	}

	headers := headerOrder(input)
	w := csv.NewWriter(f)
	w.Comma = d.delimiter
	if writeHeader {
		if err := w.Write(headers); err != nil {
			return nil, fmt.Errorf("%w: write header: %v", connector.ErrDestinationIO, err)
		}
	}
	for _, record := range input.Data {
		row := make([]string, len(headers))
		for i, name := range headers {
			row[i] = stringifyCell(record[name])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("%w: write row: %v", connector.ErrDestinationIO, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: flush %s: %v", connector.ErrDestinationIO, resolved, err)
	}

	return &envelope.DataEnvelope{
		Data: []envelope.Record{},
		Metadata: envelope.Metadata{
			RecordCount: len(input.Data),
			Schema:      input.Metadata.Schema,
			Sources:     input.Metadata.Sources,
			Custom: map[string]any{
				"file_path": resolved,
				"success":   true,
			},
		},
	}, nil
}

// headerOrder computes the column order: declared schema fields first, else
// the union of record keys in first-occurrence order.
func headerOrder(input *envelope.DataEnvelope) []string {
	if fields := input.Metadata.Schema.Fields; len(fields) > 0 {
		headers := make([]string, len(fields))
		for i, f := range fields {
			headers[i] = f.Name
		}
		return headers
	}

	seen := make(map[string]bool)
	var headers []string
	for _, record := range input.Data {
		for _, key := range envelope.SortedKeys(record) {
			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}
	}
	return headers
}

// stringifyCell renders one value for a CSV cell. Missing fields become the
// empty string; structured values are serialized as JSON.
func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
