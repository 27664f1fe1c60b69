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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

func configureTransform(t *testing.T, ops ...map[string]any) *Transform {
	t.Helper()
	items := make([]any, len(ops))
	for i, op := range ops {
		items[i] = op
	}
	tr := &Transform{}
	require.NoError(t, tr.Configure(connector.Config{"transformations": items}))
	return tr
}

func TestTransformRenameCastAdd(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "rename", "source": "a", "target": "value"},
		map[string]any{"type": "cast", "source": "value", "to_type": "number"},
		map[string]any{"type": "add", "target": "status", "value": "ok"},
	)

	input := &envelope.DataEnvelope{
		Data: []envelope.Record{{"a": "10", "b": "x"}},
		Metadata: envelope.Metadata{
			Schema: envelope.DataSchema{Fields: []envelope.FieldDefinition{
				{Name: "a", Type: envelope.FieldTypeString, SourceNode: "src"},
				{Name: "b", Type: envelope.FieldTypeString, SourceNode: "src"},
			}},
		},
	}
	env, err := tr.Execute(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, env.Data, 1)
	assert.Equal(t, envelope.Record{"value": float64(10), "b": "x", "status": "ok"}, env.Data[0])

	fields := env.Metadata.Schema.Fields
	require.Len(t, fields, 3)
	assert.Equal(t, "value", fields[0].Name)
	assert.Equal(t, envelope.FieldTypeNumber, fields[0].Type)
	assert.Equal(t, "src", fields[0].SourceNode)
	assert.Equal(t, "b", fields[1].Name)
	assert.Equal(t, "status", fields[2].Name)
	assert.Equal(t, envelope.FieldTypeString, fields[2].Type)
	assert.True(t, fields[2].Nullable)
	assert.Empty(t, fields[2].SourceNode)
}

func TestTransformCastTotality(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		toType  envelope.FieldType
		want    any
		wantErr bool
	}{
		{"string to number", "42.5", envelope.FieldTypeNumber, 42.5, false},
		{"bool to number", true, envelope.FieldTypeNumber, float64(1), false},
		{"junk to number", "abc", envelope.FieldTypeNumber, nil, true},
		{"number to string", 7.5, envelope.FieldTypeString, "7.5", false},
		{"string to boolean", "yes", envelope.FieldTypeBoolean, true, false},
		{"zero to boolean", float64(0), envelope.FieldTypeBoolean, false, false},
		{"junk to boolean", "maybe", envelope.FieldTypeBoolean, nil, true},
		{"iso string to date", "2025-06-01", envelope.FieldTypeDate, "2025-06-01T00:00:00Z", false},
		{"unix to date", float64(0), envelope.FieldTypeDate, "1970-01-01T00:00:00Z", false},
		{"junk to date", "not a date", envelope.FieldTypeDate, nil, true},
		{"null fails", nil, envelope.FieldTypeNumber, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := castValue(tt.value, tt.toType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformCastFailureDropsOnlyBadRecord(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "cast", "source": "n", "to_type": "number"},
	)

	env, err := tr.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"n": "1"}, {"n": "oops"}, {"n": "3"}},
	})
	require.NoError(t, err)
	require.Len(t, env.Data, 2)
	assert.Equal(t, float64(1), env.Data[0]["n"])
	assert.Equal(t, float64(3), env.Data[1]["n"])
	assert.Equal(t, 1, env.Metadata.Custom["errors"])
}

func TestTransformStringOps(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "trim", "source": "name"},
		map[string]any{"type": "lowercase", "source": "name"},
		map[string]any{"type": "replace", "source": "name", "old_value": " ", "new_value": "-"},
		map[string]any{"type": "copy", "source": "name", "target": "slug"},
		map[string]any{"type": "uppercase", "source": "name"},
	)

	env, err := tr.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"name": "  Ada Lovelace  "}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ADA-LOVELACE", env.Data[0]["name"])
	assert.Equal(t, "ada-lovelace", env.Data[0]["slug"])
}

func TestTransformConcatAndSplit(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "concat", "source": "first,last", "target": "full", "separator": " "},
		map[string]any{"type": "split", "source": "tags", "target": "tag_list", "separator": ","},
	)

	env, err := tr.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"first": "Ada", "last": "Lovelace", "tags": "math,computing"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", env.Data[0]["full"])
	assert.Equal(t, []any{"math", "computing"}, env.Data[0]["tag_list"])
}

func TestTransformExpressionSubstitutionOnly(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "add", "target": "greeting", "expression": "hello ${name}"},
		map[string]any{"type": "add", "target": "sum", "expression": "${a} + ${b}"},
	)

	env, err := tr.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"name": "Ada", "a": float64(1), "b": float64(2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello Ada", env.Data[0]["greeting"])
	// Arithmetic in expressions is substituted, never evaluated.
	assert.Equal(t, "1 + 2", env.Data[0]["sum"])
}

func TestTransformDateOps(t *testing.T) {
	tr := configureTransform(t,
		map[string]any{"type": "parse_date", "source": "us", "target": "iso", "date_format": "MM/DD/YYYY"},
		map[string]any{"type": "format_date", "source": "created", "target": "day", "date_format": "YYYY-MM-DD"},
	)

	env, err := tr.Execute(context.Background(), &envelope.DataEnvelope{
		Data: []envelope.Record{{"us": "06/15/2025", "created": "2025-06-15T10:30:00Z"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15T00:00:00Z", env.Data[0]["iso"])
	assert.Equal(t, "2025-06-15", env.Data[0]["day"])
}

func TestTransformConfigureRejectsUnknownOp(t *testing.T) {
	tr := &Transform{}
	err := tr.Configure(connector.Config{"transformations": []any{
		map[string]any{"type": "explode", "source": "a"},
	}})
	assert.ErrorIs(t, err, connector.ErrConfig)

	err = tr.Configure(connector.Config{"transformations": []any{}})
	assert.ErrorIs(t, err, connector.ErrConfig)
}
