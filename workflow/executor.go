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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
	"trpc.group/trpc-go/trpc-dataflow-go/log"
)

const tracerName = "trpc.group/trpc-go/trpc-dataflow-go/workflow"

// RunContext identifies one run: who runs it and where its log output goes.
type RunContext struct {
	// RunID names the run in logs and results. Empty gets a fresh uuid.
	RunID string
	// UserID is the authenticated user, forwarded to connectors that scope
	// data per user.
	UserID string
	// Logger overrides the executor's sink for this run.
	Logger log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's default log sink.
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// Executor validates and runs workflow graphs. One executor serves many
// concurrent runs; each run owns its results map and connector instances.
type Executor struct {
	registry *connector.Registry
	logger   log.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an executor over the given connector registry.
func NewExecutor(registry *connector.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		logger:   log.Default,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks the graph without executing it: structure, cycles,
// connector configs, and schema propagation.
func (e *Executor) Validate(g *Graph) error {
	_, err := buildPlan(g, e.registry)
	return err
}

// Execute runs the graph sequentially in topological order and returns the
// per-node result envelopes. On failure the results collected so far are
// returned along with the failing node's error.
func (e *Executor) Execute(ctx context.Context, g *Graph, rc RunContext) (map[string]*envelope.DataEnvelope, Outcome, error) {
	if rc.RunID == "" {
		rc.RunID = uuid.NewString()
	}
	logger := e.logger
	if rc.Logger != nil {
		logger = rc.Logger
	}

	p, err := buildPlan(g, e.registry)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	ctx = connector.ContextWithUser(ctx, rc.UserID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", g.WorkflowID),
		attribute.String("run.id", rc.RunID),
		attribute.Int("workflow.nodes", len(p.order)),
	))
	defer span.End()

	logger.Infof("run %s: workflow %s with %d nodes", rc.RunID, g.WorkflowID, len(p.order))

	results := make(map[string]*envelope.DataEnvelope, len(p.order))
	for _, id := range p.order {
		if err := ctx.Err(); err != nil {
			logger.Warnf("run %s: cancelled before node %s", rc.RunID, id)
			return results, OutcomeCancelled, err
		}

		node := p.nodes[id]
		env, err := e.executeNode(ctx, p, node, results, logger, rc.RunID)
		if err != nil {
			nodeErr := &NodeError{NodeID: id, ConnectorType: node.ConnectorTypeID, Err: err}
			if isCancellation(ctx, err) {
				logger.Warnf("run %s: %v", rc.RunID, nodeErr)
				return results, OutcomeCancelled, nodeErr
			}
			if node.ContinueOnError() {
				logger.Warnf("run %s: %v (continuing)", rc.RunID, nodeErr)
				failed := envelope.Empty()
				failed.Metadata.NodeID = id
				failed.Metadata.NodeType = node.ConnectorTypeID
				failed.Metadata.Custom = map[string]any{"error": err.Error()}
				results[id] = failed
				continue
			}
			logger.Errorf("run %s: %v", rc.RunID, nodeErr)
			return results, OutcomeFailed, nodeErr
		}
		results[id] = env
	}

	logger.Infof("run %s: completed", rc.RunID)
	return results, OutcomeCompleted, nil
}

// executeNode aggregates the node's input, invokes the connector, and
// stamps the result metadata.
func (e *Executor) executeNode(ctx context.Context, p *plan, node Node,
	results map[string]*envelope.DataEnvelope, logger log.Logger, runID string) (*envelope.DataEnvelope, error) {

	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.connector", node.ConnectorTypeID),
	))
	defer span.End()

	input := e.nodeInput(p, node, results)
	ctx = connector.ContextWithNode(ctx, node.ID)

	start := time.Now()
	env, err := p.connectors[node.ID].Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = envelope.Empty()
	}
	elapsed := time.Since(start)

	stampMetadata(env, node, input, elapsed)
	span.SetAttributes(attribute.Int("node.records", env.Metadata.RecordCount))
	logger.Infof("run %s: node %s (%s) produced %d records in %dms",
		runID, node.ID, node.ConnectorTypeID, env.Metadata.RecordCount, elapsed.Milliseconds())
	return env, nil
}

// nodeInput assembles the input envelope: empty for no predecessors, the
// predecessor's envelope for one, a merge for several.
func (e *Executor) nodeInput(p *plan, node Node, results map[string]*envelope.DataEnvelope) *envelope.DataEnvelope {
	preds := predecessorEnvelopes(p, node, results)
	switch len(preds) {
	case 0:
		return envelope.Empty()
	case 1:
		return preds[0]
	default:
		return envelope.MergeEnvelopes(preds, p.labels)
	}
}

func predecessorEnvelopes(p *plan, node Node, results map[string]*envelope.DataEnvelope) []*envelope.DataEnvelope {
	envs := make([]*envelope.DataEnvelope, 0, len(p.preds[node.ID]))
	for _, id := range p.preds[node.ID] {
		if env, ok := results[id]; ok {
			envs = append(envs, env)
		} else {
			envs = append(envs, envelope.Empty())
		}
	}
	return envs
}

// stampMetadata fills engine-owned metadata after a node executes. Values a
// connector set deliberately are left alone.
func stampMetadata(env *envelope.DataEnvelope, node Node, input *envelope.DataEnvelope, elapsed time.Duration) {
	env.Metadata.NodeID = node.ID
	env.Metadata.NodeType = node.ConnectorTypeID
	env.Metadata.ExecutionTimeMS = elapsed.Milliseconds()
	if env.Metadata.RecordCount == 0 {
		env.Metadata.RecordCount = len(env.Data)
	}
	if len(env.Metadata.Sources) == 0 {
		if len(input.Metadata.Sources) > 0 {
			env.Metadata.Sources = append([]string(nil), input.Metadata.Sources...)
		} else {
			env.Metadata.Sources = []string{node.ID}
		}
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
