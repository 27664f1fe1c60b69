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
	"regexp"
	"strconv"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// Transform operation types.
const (
	opRename     = "rename"
	opDelete     = "delete"
	opAdd        = "add"
	opModify     = "modify"
	opCast       = "cast"
	opCopy       = "copy"
	opLowercase  = "lowercase"
	opUppercase  = "uppercase"
	opTrim       = "trim"
	opReplace    = "replace"
	opConcat     = "concat"
	opSplit      = "split"
	opFormatDate = "format_date"
	opParseDate  = "parse_date"
)

// fieldRef matches ${field_name} placeholders in expressions.
var fieldRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// dateLayouts are tried in order when parsing date values without an
// explicit format.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// layoutTokens converts YYYY-MM-DD style format strings into Go layouts.
// Formats already written as Go layouts pass through unchanged.
var layoutTokens = strings.NewReplacer(
	"YYYY", "2006",
	"DD", "02",
	"HH", "15",
	"MM", "01",
	"mm", "04",
	"ss", "05",
)

// transformOp is one parsed operation from the transformations config.
type transformOp struct {
	kind       string
	source     string
	sources    []string
	target     string
	value      any
	hasValue   bool
	expression string
	hasExpr    bool
	toType     envelope.FieldType
	oldValue   string
	newValue   string
	separator  string
	dateFormat string
}

// Transform applies an ordered list of field-level operations to every
// record. A record that fails an operation (an impossible cast, an
// unparseable date) is dropped and counted; other records are unaffected.
type Transform struct {
	ops []transformOp
}

var _ connector.Connector = (*Transform)(nil)

// ID implements connector.Connector.
func (t *Transform) ID() string { return TypeTransform }

// Name implements connector.Connector.
func (t *Transform) Name() string { return "Field Transform" }

// Type implements connector.Connector.
func (t *Transform) Type() connector.Type { return connector.TypeProcessor }

// ConfigSchema implements connector.Connector.
func (t *Transform) ConfigSchema() []connector.ParameterSchema {
	return []connector.ParameterSchema{
		{
			Name:        "transformations",
			Title:       "Transformations",
			Description: "Ordered operations applied to every record.",
			Type:        "array",
			Required:    true,
			Properties: []connector.ParameterSchema{
				{
					Name:     "type",
					Title:    "Operation",
					Type:     "string",
					Required: true,
					Enum: []any{
						opRename, opDelete, opAdd, opModify, opCast, opCopy,
						opLowercase, opUppercase, opTrim, opReplace, opConcat,
						opSplit, opFormatDate, opParseDate,
					},
				},
				{Name: "source", Title: "Source Field", Type: "string"},
				{Name: "target", Title: "Target Field", Type: "string"},
				{Name: "value", Title: "Literal Value", Type: "string"},
				{Name: "expression", Title: "Expression", Type: "string"},
				{
					Name:  "to_type",
					Title: "Cast To",
					Type:  "string",
					Enum:  []any{"string", "number", "boolean", "date"},
				},
				{Name: "old_value", Title: "Old Value", Type: "string"},
				{Name: "new_value", Title: "New Value", Type: "string"},
				{Name: "separator", Title: "Separator", Type: "string", Default: ","},
				{Name: "date_format", Title: "Date Format", Type: "string"},
			},
		},
	}
}

// Configure implements connector.Connector.
func (t *Transform) Configure(config connector.Config) error {
	items := config.GetSlice("transformations")
	if len(items) == 0 {
		return fmt.Errorf("%w: transform requires at least one transformation", connector.ErrConfig)
	}

	t.ops = nil
	for i, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: transformation %d is not an object", connector.ErrConfig, i)
		}
		op, err := parseTransformOp(connector.Config(raw))
		if err != nil {
			return fmt.Errorf("%w: transformation %d: %v", connector.ErrConfig, i, err)
		}
		t.ops = append(t.ops, op)
	}
	return nil
}

func parseTransformOp(cfg connector.Config) (transformOp, error) {
	op := transformOp{
		kind:       cfg.GetString("type"),
		source:     cfg.GetString("source"),
		target:     cfg.GetString("target"),
		oldValue:   cfg.GetString("old_value"),
		newValue:   cfg.GetString("new_value"),
		separator:  cfg.GetStringDefault("separator", ","),
		dateFormat: cfg.GetString("date_format"),
	}
	if cfg.Has("value") {
		op.value, op.hasValue = cfg["value"], true
	}
	if cfg.Has("expression") {
		op.expression, op.hasExpr = cfg.GetString("expression"), true
	}

	// The source of concat may be a list or a comma-separated string.
	if list := cfg.GetSlice("source"); len(list) > 0 {
		for _, item := range list {
			op.sources = append(op.sources, fmt.Sprint(item))
		}
	} else if op.source != "" {
		for _, name := range strings.Split(op.source, ",") {
			if name = strings.TrimSpace(name); name != "" {
				op.sources = append(op.sources, name)
			}
		}
	}

	switch op.kind {
	case opRename, opCopy:
		if op.source == "" || op.target == "" {
			return op, fmt.Errorf("%s requires source and target", op.kind)
		}
	case opDelete, opModify, opLowercase, opUppercase, opTrim, opReplace:
		if op.source == "" {
			return op, fmt.Errorf("%s requires source", op.kind)
		}
	case opAdd:
		if op.target == "" {
			return op, fmt.Errorf("add requires target")
		}
	case opCast:
		if op.source == "" {
			return op, fmt.Errorf("cast requires source")
		}
		switch cfg.GetString("to_type") {
		case "string":
			op.toType = envelope.FieldTypeString
		case "number":
			op.toType = envelope.FieldTypeNumber
		case "boolean":
			op.toType = envelope.FieldTypeBoolean
		case "date":
			op.toType = envelope.FieldTypeDate
		default:
			return op, fmt.Errorf("cast to unsupported type %q", cfg.GetString("to_type"))
		}
	case opConcat:
		if len(op.sources) == 0 {
			return op, fmt.Errorf("concat requires source fields")
		}
		if op.target == "" {
			op.target = op.sources[0]
		}
	case opSplit:
		if op.source == "" || op.target == "" {
			return op, fmt.Errorf("split requires source and target")
		}
	case opFormatDate, opParseDate:
		if op.source == "" || op.dateFormat == "" {
			return op, fmt.Errorf("%s requires source and date_format", op.kind)
		}
	default:
		return op, fmt.Errorf("unknown operation type %q", op.kind)
	}
	return op, nil
}

// OutputSchema implements connector.Connector. Only rename, delete, add,
// cast, and copy change the schema shape.
func (t *Transform) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if input == nil {
		input = &envelope.DataSchema{}
	}

	out := envelope.DataSchema{
		Fields:      append([]envelope.FieldDefinition(nil), input.Fields...),
		SourceNodes: append([]string(nil), input.SourceNodes...),
	}
	find := func(name string) int {
		for i := range out.Fields {
			if out.Fields[i].Name == name {
				return i
			}
		}
		return -1
	}

	for _, op := range t.ops {
		switch op.kind {
		case opRename:
			if i := find(op.source); i >= 0 {
				out.Fields[i].Name = op.target
			}
		case opDelete:
			if i := find(op.source); i >= 0 {
				out.Fields = append(out.Fields[:i], out.Fields[i+1:]...)
			}
		case opAdd:
			out.Fields = append(out.Fields, envelope.FieldDefinition{
				Name:     op.target,
				Type:     envelope.FieldTypeString,
				Nullable: true,
			})
		case opCast:
			i := find(op.source)
			if i < 0 {
				continue
			}
			if op.target == "" || op.target == op.source {
				out.Fields[i].Type = op.toType
				continue
			}
			casted := out.Fields[i]
			casted.Name = op.target
			casted.Type = op.toType
			out.Fields = append(out.Fields, casted)
		case opCopy:
			if i := find(op.source); i >= 0 {
				copied := out.Fields[i]
				copied.Name = op.target
				out.Fields = append(out.Fields, copied)
			}
		}
	}
	return &out, nil
}

// ValidateInputSchema implements connector.Connector.
func (t *Transform) ValidateInputSchema(*envelope.DataSchema) error { return nil }

// Execute implements connector.Connector.
func (t *Transform) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	var (
		out        []envelope.Record
		errorCount int
		samples    []string
	)

	for i, record := range input.Data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		transformed, err := t.applyAll(record.Clone())
		if err != nil {
			errorCount++
			if len(samples) < errorSampleLimit {
				samples = append(samples, fmt.Sprintf("record %d: %v", i, err))
			}
			continue
		}
		out = append(out, transformed)
	}

	schema, err := t.OutputSchema(&input.Metadata.Schema)
	if err != nil {
		return nil, err
	}
	custom := map[string]any{}
	if errorCount > 0 {
		custom["errors"] = errorCount
		custom["error_samples"] = samples
	}
	return &envelope.DataEnvelope{
		Data: out,
		Metadata: envelope.Metadata{
			RecordCount: len(out),
			Schema:      *schema,
			Sources:     input.Metadata.Sources,
			Custom:      custom,
		},
	}, nil
}

func (t *Transform) applyAll(record envelope.Record) (envelope.Record, error) {
	for _, op := range t.ops {
		if err := op.apply(record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func (op transformOp) apply(record envelope.Record) error {
	switch op.kind {
	case opRename:
		if value, present := record[op.source]; present {
			record[op.target] = value
			delete(record, op.source)
		}
	case opDelete:
		delete(record, op.source)
	case opAdd:
		record[op.target] = op.newFieldValue(record)
	case opModify:
		if _, present := record[op.source]; present {
			record[op.source] = op.newFieldValue(record)
		}
	case opCast:
		value, present := record[op.source]
		if !present {
			return nil
		}
		casted, err := castValue(value, op.toType)
		if err != nil {
			return fmt.Errorf("cast %s: %w", op.source, err)
		}
		target := op.target
		if target == "" {
			target = op.source
		}
		record[target] = casted
	case opCopy:
		if value, present := record[op.source]; present {
			record[op.target] = value
		}
	case opLowercase:
		if s, ok := record[op.source].(string); ok {
			record[op.source] = strings.ToLower(s)
		}
	case opUppercase:
		if s, ok := record[op.source].(string); ok {
			record[op.source] = strings.ToUpper(s)
		}
	case opTrim:
		if s, ok := record[op.source].(string); ok {
			record[op.source] = strings.TrimSpace(s)
		}
	case opReplace:
		if s, ok := record[op.source].(string); ok {
			record[op.source] = strings.ReplaceAll(s, op.oldValue, op.newValue)
		}
	case opConcat:
		parts := make([]string, 0, len(op.sources))
		for _, name := range op.sources {
			parts = append(parts, stringifyCell(record[name]))
		}
		record[op.target] = strings.Join(parts, op.separator)
	case opSplit:
		if s, ok := record[op.source].(string); ok {
			parts := strings.Split(s, op.separator)
			values := make([]any, len(parts))
			for i, p := range parts {
				values[i] = p
			}
			record[op.target] = values
		}
	case opFormatDate:
		value, present := record[op.source]
		if !present {
			return nil
		}
		parsed, err := parseDateValue(value, "")
		if err != nil {
			return fmt.Errorf("format_date %s: %w", op.source, err)
		}
		target := op.target
		if target == "" {
			target = op.source
		}
		record[target] = parsed.Format(layoutTokens.Replace(op.dateFormat))
	case opParseDate:
		value, present := record[op.source]
		if !present {
			return nil
		}
		parsed, err := parseDateValue(value, layoutTokens.Replace(op.dateFormat))
		if err != nil {
			return fmt.Errorf("parse_date %s: %w", op.source, err)
		}
		target := op.target
		if target == "" {
			target = op.source
		}
		record[target] = parsed.Format(time.RFC3339)
	}
	return nil
}

// newFieldValue resolves the value of add and modify: an expression with
// ${field} substitution, a literal, or the empty string.
func (op transformOp) newFieldValue(record envelope.Record) any {
	if op.hasExpr {
		return fieldRef.ReplaceAllStringFunc(op.expression, func(ref string) string {
			name := fieldRef.FindStringSubmatch(ref)[1]
			return stringifyCell(record[name])
		})
	}
	if op.hasValue {
		return op.value
	}
	return ""
}

// castValue converts a value to the requested type. Unconvertible values
// report an error instead of silently passing through.
func castValue(value any, toType envelope.FieldType) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot cast null to %s", toType)
	}
	switch toType {
	case envelope.FieldTypeString:
		return stringifyCell(value), nil
	case envelope.FieldTypeNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case bool:
			if v {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			return f, nil
		}
	case envelope.FieldTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a boolean", v)
		}
	case envelope.FieldTypeDate:
		parsed, err := parseDateValue(value, "")
		if err != nil {
			return nil, err
		}
		return parsed.Format(time.RFC3339), nil
	}
	return nil, fmt.Errorf("cannot cast %T to %s", value, toType)
}

// parseDateValue interprets a value as a point in time. With an explicit
// layout only that layout is tried; otherwise the known layouts plus unix
// seconds.
func parseDateValue(value any, layout string) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		if layout != "" {
			parsed, err := time.Parse(layout, s)
			if err != nil {
				return time.Time{}, fmt.Errorf("%q does not match format %q", s, layout)
			}
			return parsed, nil
		}
		for _, l := range dateLayouts {
			if parsed, err := time.Parse(l, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a recognized date", s)
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as a date", value)
	}
}
