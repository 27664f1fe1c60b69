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
	"errors"
	"fmt"
	"io"
	"os"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// CSVSource reads a delimited tabular file from the data directory and emits
// every cell as a string.
type CSVSource struct {
	dataDir string

	filePath  string
	hasHeader bool
	delimiter rune
	comment   rune
}

var _ connector.Connector = (*CSVSource)(nil)

// ID implements connector.Connector.
func (s *CSVSource) ID() string { return TypeCSVSource }

// Name implements connector.Connector.
func (s *CSVSource) Name() string { return "CSV Source" }

// Type implements connector.Connector.
func (s *CSVSource) Type() connector.Type { return connector.TypeSource }

// ConfigSchema implements connector.Connector.
func (s *CSVSource) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:        "file_path",
			Title:       "File Path",
			Description: "Path of the file to read, relative to the data directory (uploads/... for uploaded files).",
			Type:        "string",
			Required:    true,
		},
		{
			Name:        "has_header",
			Title:       "Has Header Row",
			Description: "Whether the first row names the columns.",
			Type:        "boolean",
			Default:     true,
		},
		{
			Name:        "delimiter",
			Title:       "Delimiter",
			Description: "Single-character field delimiter.",
			Type:        "string",
			Default:     ",",
		},
		{
			Name:        "comment",
			Title:       "Comment Character",
			Description: "Lines starting with this character are skipped.",
			Type:        "string",
		},
	}
}

// Configure implements connector.Connector.
func (s *CSVSource) Configure(config connector.Config) error {
	s.filePath = config.GetString("file_path")
	if s.filePath == "" {
		return fmt.Errorf("%w: csv_source requires file_path", connector.ErrConfig)
	}
	s.hasHeader = config.GetBool("has_header", true)

	delimiter, err := singleRune(config.GetStringDefault("delimiter", ","), "delimiter")
	if err != nil {
		return err
	}
	s.delimiter = delimiter

	if comment := config.GetString("comment"); comment != "" {
		r, err := singleRune(comment, "comment")
		if err != nil {
			return err
		}
		s.comment = r
	}
	return nil
}

// OutputSchema implements connector.Connector. Column names are unknown
// until the file is read, so the declared schema is empty.
func (s *CSVSource) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if err := s.ValidateInputSchema(input); err != nil {
		return nil, err
	}
	return &envelope.DataSchema{}, nil
}

// ValidateInputSchema implements connector.Connector.
func (s *CSVSource) ValidateInputSchema(input *envelope.DataSchema) error {
	if input != nil {
		return fmt.Errorf("%w: csv_source accepts no input", connector.ErrSchema)
	}
	return nil
}

// Execute implements connector.Connector.
func (s *CSVSource) Execute(ctx context.Context, _ *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	resolved, err := resolveSourcePath(s.dataDir, s.filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrConfig, err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", connector.ErrSourceIO, resolved, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	reader.Comment = s.comment
	reader.FieldsPerRecord = -1

	var headers []string
	records := make([]envelope.Record, 0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", connector.ErrDecode, s.filePath, err)
		}
		if headers == nil {
			if s.hasHeader {
				headers = append(headers, row...)
				continue
			}
			headers = make([]string, len(row))
			for i := range row {
				headers[i] = fmt.Sprintf("column_%d", i+1)
			}
		}
		records = append(records, rowToCSVRecord(headers, row))
	}

	nodeID := connector.NodeID(ctx)
	schema := envelope.DataSchema{}
	for _, name := range headers {
		schema.Fields = append(schema.Fields, envelope.FieldDefinition{
			Name:       name,
			Type:       envelope.FieldTypeString,
			SourceNode: nodeID,
			Nullable:   true,
		})
	}
	if len(schema.Fields) > 0 && nodeID != "" {
		schema.SourceNodes = []string{nodeID}
	}

	return &envelope.DataEnvelope{
		Data: records,
		Metadata: envelope.Metadata{
			RecordCount: len(records),
			Schema:      schema,
			Custom:      map[string]any{"file_path": resolved},
		},
	}, nil
}

// rowToCSVRecord maps one row onto the header names. Extra cells beyond the
// headers get positional column names.
func rowToCSVRecord(headers, row []string) envelope.Record {
	record := make(envelope.Record, len(row))
	for i, value := range row {
		if i < len(headers) {
			record[headers[i]] = value
		} else {
			record[fmt.Sprintf("column_%d", i+1)] = value
		}
	}
	return record
}

func singleRune(s, name string) (rune, error) {
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("%w: %s must be a single character, got %q", connector.ErrConfig, name, s)
	}
	return runes[0], nil
}
