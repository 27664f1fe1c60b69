//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package workflow

import (
	"fmt"
	"sort"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
)

// plan is a validated graph ready to run: topological order, configured
// connector instances, and the declared output schema of every node.
type plan struct {
	order      []string
	nodes      map[string]Node
	preds      map[string][]string
	connectors map[string]connector.Connector
	outputs    map[string]*envelope.DataSchema
	labels     map[string]string
}

// buildPlan validates the graph and prepares it for execution. Cycles are
// detected before any connector is instantiated.
func buildPlan(g *Graph, registry *connector.Registry) (*plan, error) {
	if err := checkDefinition(g); err != nil {
		return nil, err
	}

	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}
	for i, e := range g.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %d references unknown node %s", ErrInvalidGraph, i, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %d references unknown node %s", ErrInvalidGraph, i, e.Target)
		}
	}

	order, err := topologicalOrder(g)
	if err != nil {
		return nil, err
	}

	p := &plan{
		order:      order,
		nodes:      nodes,
		preds:      make(map[string][]string, len(order)),
		connectors: make(map[string]connector.Connector, len(order)),
		outputs:    make(map[string]*envelope.DataSchema, len(order)),
		labels:     g.Labels(),
	}
	for _, id := range order {
		p.preds[id] = g.Predecessors(id)
	}
	for _, id := range order {
		if err := p.prepareNode(g, registry, nodes[id]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// prepareNode instantiates, configures, and schema-checks one node. Nodes
// are prepared in topological order so every predecessor's declared output
// is already known.
func (p *plan) prepareNode(g *Graph, registry *connector.Registry, node Node) error {
	c, err := registry.Get(node.ConnectorTypeID)
	if err != nil {
		return &NodeError{NodeID: node.ID, ConnectorType: node.ConnectorTypeID, Err: err}
	}
	if err := c.Configure(node.Config); err != nil {
		return &NodeError{NodeID: node.ID, ConnectorType: node.ConnectorTypeID, Err: err}
	}

	preds := p.preds[node.ID]
	switch c.Type() {
	case connector.TypeSource:
		if len(preds) > 0 {
			return fmt.Errorf("%w: source node %s has predecessors", ErrInvalidGraph, node.ID)
		}
	case connector.TypeDestination:
		if len(g.Successors(node.ID)) > 0 {
			return fmt.Errorf("%w: destination node %s has successors", ErrInvalidGraph, node.ID)
		}
	}

	input := p.inputSchema(preds)
	if err := c.ValidateInputSchema(input); err != nil {
		return &NodeError{NodeID: node.ID, ConnectorType: node.ConnectorTypeID, Err: err}
	}
	output, err := c.OutputSchema(input)
	if err != nil {
		return &NodeError{NodeID: node.ID, ConnectorType: node.ConnectorTypeID, Err: err}
	}

	p.connectors[node.ID] = c
	p.outputs[node.ID] = output
	return nil
}

// inputSchema merges the declared outputs of the predecessors: nil for
// none, the single schema for one, a provenance-preserving merge otherwise.
func (p *plan) inputSchema(preds []string) *envelope.DataSchema {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return p.outputs[preds[0]]
	default:
		schemas := make([]envelope.DataSchema, 0, len(preds))
		for _, pred := range preds {
			if out := p.outputs[pred]; out != nil {
				schemas = append(schemas, *out)
			} else {
				schemas = append(schemas, envelope.DataSchema{})
			}
		}
		merged := envelope.MergeSchemas(schemas, p.labels)
		return &merged
	}
}

// topologicalOrder runs Kahn's algorithm with the ready set kept sorted, so
// the order is deterministic for a given graph. Remaining inbound edges
// after processing mean a cycle.
func topologicalOrder(g *Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		indegree[e.Target]++
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	var ready []string
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, succ := range adjacency[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = insertSorted(ready, succ)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: nodes %v form a cycle", ErrCyclicGraph, stuck)
	}
	return order, nil
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
