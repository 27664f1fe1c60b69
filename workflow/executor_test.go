//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// stubConnector is a scriptable connector for executor tests.
type stubConnector struct {
	id      string
	typ     connector.Type
	emit    func(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error)
	execLog *[]string
}

func (s *stubConnector) ID() string                                { return s.id }
func (s *stubConnector) Name() string                              { return s.id }
func (s *stubConnector) Type() connector.Type                      { return s.typ }
func (s *stubConnector) ConfigSchema() []connector.ParameterSchema { return nil }
func (s *stubConnector) Configure(connector.Config) error          { return nil }
func (s *stubConnector) OutputSchema(input *envelope.DataSchema) (*envelope.DataSchema, error) {
	if s.typ == connector.TypeSource {
		return &envelope.DataSchema{}, nil
	}
	return input, nil
}
func (s *stubConnector) ValidateInputSchema(input *envelope.DataSchema) error {
	if s.typ == connector.TypeSource && input != nil {
		return fmt.Errorf("%w: source accepts no input", connector.ErrSchema)
	}
	return nil
}
func (s *stubConnector) Execute(ctx context.Context, input *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
	if s.execLog != nil {
		*s.execLog = append(*s.execLog, connector.NodeID(ctx))
	}
	if s.emit != nil {
		return s.emit(ctx, input)
	}
	return input, nil
}

// sourceEmitting builds a source factory that emits fixed records with a
// declared per-field provenance.
func sourceEmitting(id string, records []envelope.Record, execLog *[]string) connector.Factory {
	return func() connector.Connector {
		return &stubConnector{
			id:      id,
			typ:     connector.TypeSource,
			execLog: execLog,
			emit: func(ctx context.Context, _ *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
				nodeID := connector.NodeID(ctx)
				return &envelope.DataEnvelope{
					Data: records,
					Metadata: envelope.Metadata{
						RecordCount: len(records),
						Schema:      envelope.InferSchema(records, nodeID),
						Sources:     []string{nodeID},
					},
				}, nil
			},
		}
	}
}

func passthroughFactory(id string, typ connector.Type, execLog *[]string) connector.Factory {
	return func() connector.Connector {
		return &stubConnector{id: id, typ: typ, execLog: execLog}
	}
}

func TestExecuteMergesCollidingSources(t *testing.T) {
	reg := connector.NewRegistry()
	reg.MustRegister("users_src", sourceEmitting("users_src", []envelope.Record{
		{"id": "u1", "name": "Alice"},
		{"id": "u2", "name": "Bob"},
	}, nil))
	reg.MustRegister("tasks_src", sourceEmitting("tasks_src", []envelope.Record{
		{"id": "t1", "title": "T1"},
		{"id": "t2", "title": "T2"},
	}, nil))
	reg.MustRegister("sink", passthroughFactory("sink", connector.TypeProcessor, nil))

	g := &Graph{
		WorkflowID: "wf-merge",
		Nodes: []Node{
			{ID: "A", Label: "Users", ConnectorTypeID: "users_src"},
			{ID: "B", Label: "Tasks", ConnectorTypeID: "tasks_src"},
			{ID: "C", Label: "Join", ConnectorTypeID: "sink"},
		},
		Edges: []Edge{{Source: "A", Target: "C"}, {Source: "B", Target: "C"}},
	}

	results, outcome, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	joined := results["C"]
	require.NotNil(t, joined)
	require.Len(t, joined.Data, 4)

	fieldNames := map[string]string{}
	for _, f := range joined.Metadata.Schema.Fields {
		fieldNames[f.Name] = f.SourceNode
	}
	assert.Equal(t, map[string]string{
		"Users_id": "A",
		"name":     "A",
		"Tasks_id": "B",
		"title":    "B",
	}, fieldNames)

	assert.Equal(t, "u1", joined.Data[0]["Users_id"])
	assert.Equal(t, "t1", joined.Data[2]["Tasks_id"])
	assert.ElementsMatch(t, []string{"A", "B"}, joined.Metadata.Sources)
}

func TestExecuteRespectsTopologicalOrder(t *testing.T) {
	var order []string
	reg := connector.NewRegistry()
	reg.MustRegister("src", sourceEmitting("src", []envelope.Record{{"n": float64(1)}}, &order))
	reg.MustRegister("proc", passthroughFactory("proc", connector.TypeProcessor, &order))
	reg.MustRegister("dst", passthroughFactory("dst", connector.TypeDestination, &order))

	g := &Graph{
		Nodes: []Node{
			{ID: "z_sink", ConnectorTypeID: "dst"},
			{ID: "m_mid", ConnectorTypeID: "proc"},
			{ID: "a_src", ConnectorTypeID: "src"},
		},
		Edges: []Edge{
			{Source: "a_src", Target: "m_mid"},
			{Source: "m_mid", Target: "z_sink"},
		},
	}

	results, outcome, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, []string{"a_src", "m_mid", "z_sink"}, order)
	assert.Len(t, results, 3)
}

func TestExecuteStampsMetadata(t *testing.T) {
	reg := connector.NewRegistry()
	reg.MustRegister("src", sourceEmitting("src", []envelope.Record{{"n": float64(1)}}, nil))
	reg.MustRegister("proc", passthroughFactory("proc", connector.TypeProcessor, nil))

	g := &Graph{
		Nodes: []Node{
			{ID: "s", ConnectorTypeID: "src"},
			{ID: "p", ConnectorTypeID: "proc"},
		},
		Edges: []Edge{{Source: "s", Target: "p"}},
	}

	results, _, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{})
	require.NoError(t, err)

	proc := results["p"]
	assert.Equal(t, "p", proc.Metadata.NodeID)
	assert.Equal(t, "proc", proc.Metadata.NodeType)
	assert.Equal(t, 1, proc.Metadata.RecordCount)
	assert.Equal(t, []string{"s"}, proc.Metadata.Sources)
}

func TestCyclicGraphRejectedBeforeInstantiation(t *testing.T) {
	instantiated := 0
	reg := connector.NewRegistry()
	reg.MustRegister("counted", func() connector.Connector {
		instantiated++
		return &stubConnector{id: "counted", typ: connector.TypeProcessor}
	})
	// Registration probes the factory once; only later instantiations would
	// come from planning.
	baseline := instantiated

	g := &Graph{
		Nodes: []Node{
			{ID: "A", ConnectorTypeID: "counted"},
			{ID: "B", ConnectorTypeID: "counted"},
			{ID: "C", ConnectorTypeID: "counted"},
		},
		Edges: []Edge{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "C"},
			{Source: "C", Target: "A"},
		},
	}

	_, outcome, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{})
	assert.ErrorIs(t, err, ErrCyclicGraph)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, baseline, instantiated)
}

func TestExecuteFailurePolicy(t *testing.T) {
	boom := errors.New("boom")
	reg := connector.NewRegistry()
	reg.MustRegister("src", sourceEmitting("src", []envelope.Record{{"n": float64(1)}}, nil))
	reg.MustRegister("bad", func() connector.Connector {
		return &stubConnector{
			id:  "bad",
			typ: connector.TypeProcessor,
			emit: func(context.Context, *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
				return nil, boom
			},
		}
	})
	reg.MustRegister("sink", passthroughFactory("sink", connector.TypeProcessor, nil))

	g := &Graph{
		Nodes: []Node{
			{ID: "s", ConnectorTypeID: "src"},
			{ID: "b", ConnectorTypeID: "bad"},
			{ID: "t", ConnectorTypeID: "sink"},
		},
		Edges: []Edge{{Source: "s", Target: "b"}, {Source: "b", Target: "t"}},
	}

	results, outcome, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{})
	assert.Equal(t, OutcomeFailed, outcome)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "b", nodeErr.NodeID)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, results, "s")
	assert.NotContains(t, results, "t")
}

func TestExecuteContinueOnError(t *testing.T) {
	reg := connector.NewRegistry()
	reg.MustRegister("src", sourceEmitting("src", []envelope.Record{{"n": float64(1)}}, nil))
	reg.MustRegister("bad", func() connector.Connector {
		return &stubConnector{
			id:  "bad",
			typ: connector.TypeProcessor,
			emit: func(context.Context, *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
				return nil, errors.New("boom")
			},
		}
	})
	reg.MustRegister("sink", passthroughFactory("sink", connector.TypeProcessor, nil))

	g := &Graph{
		Nodes: []Node{
			{ID: "s", ConnectorTypeID: "src"},
			{ID: "b", ConnectorTypeID: "bad", Config: connector.Config{"continue_on_error": true}},
			{ID: "t", ConnectorTypeID: "sink"},
		},
		Edges: []Edge{{Source: "s", Target: "b"}, {Source: "b", Target: "t"}},
	}

	results, outcome, err := NewExecutor(reg).Execute(context.Background(), g, RunContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "boom", results["b"].Metadata.Custom["error"])
	require.Contains(t, results, "t")
	assert.Empty(t, results["t"].Data)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg := connector.NewRegistry()
	reg.MustRegister("src", func() connector.Connector {
		return &stubConnector{
			id:  "src",
			typ: connector.TypeSource,
			emit: func(ctx context.Context, _ *envelope.DataEnvelope) (*envelope.DataEnvelope, error) {
				cancel()
				return envelope.Empty(), nil
			},
		}
	})
	reg.MustRegister("sink", passthroughFactory("sink", connector.TypeProcessor, nil))

	g := &Graph{
		Nodes: []Node{
			{ID: "s", ConnectorTypeID: "src"},
			{ID: "t", ConnectorTypeID: "sink"},
		},
		Edges: []Edge{{Source: "s", Target: "t"}},
	}

	results, outcome, err := NewExecutor(reg).Execute(ctx, g, RunContext{})
	assert.Equal(t, OutcomeCancelled, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, results, "t")
}

func TestValidateDegreeRules(t *testing.T) {
	reg := connector.NewRegistry()
	reg.MustRegister("src", sourceEmitting("src", nil, nil))
	reg.MustRegister("dst", passthroughFactory("dst", connector.TypeDestination, nil))
	reg.MustRegister("proc", passthroughFactory("proc", connector.TypeProcessor, nil))

	exec := NewExecutor(reg)

	err := exec.Validate(&Graph{
		Nodes: []Node{
			{ID: "p", ConnectorTypeID: "proc"},
			{ID: "s", ConnectorTypeID: "src"},
		},
		Edges: []Edge{{Source: "p", Target: "s"}},
	})
	assert.ErrorIs(t, err, ErrInvalidGraph)

	err = exec.Validate(&Graph{
		Nodes: []Node{
			{ID: "d", ConnectorTypeID: "dst"},
			{ID: "p", ConnectorTypeID: "proc"},
		},
		Edges: []Edge{{Source: "d", Target: "p"}},
	})
	assert.ErrorIs(t, err, ErrInvalidGraph)

	err = exec.Validate(&Graph{
		Nodes: []Node{{ID: "x", ConnectorTypeID: "nope"}},
	})
	assert.ErrorIs(t, err, connector.ErrUnknownConnector)

	err = exec.Validate(&Graph{
		Nodes: []Node{{ID: "x", ConnectorTypeID: "proc"}},
		Edges: []Edge{{Source: "x", Target: "ghost"}},
	})
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
