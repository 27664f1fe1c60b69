//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package workflow defines workflow graphs and executes them: validation,
// schema propagation, and sequential topological execution of connector
// nodes with per-node results.
package workflow

import (
	"sort"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
)

// Position is editor-only node placement, carried through unchanged.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one connector instance in a workflow.
type Node struct {
	ID              string           `json:"id"`
	Label           string           `json:"label"`
	ConnectorTypeID string           `json:"connector_type_id"`
	Config          connector.Config `json:"config"`
	Position        *Position        `json:"position,omitempty"`
}

// ContinueOnError reports whether the node asks the run to keep going when
// it fails. Downstream nodes then see an empty envelope for it.
func (n Node) ContinueOnError() bool {
	return n.Config.GetBool("continue_on_error", false)
}

// Edge is a directed connection between two nodes. Port is carried in the
// definition but assigns no execution semantics; it only orders a node's
// inbound edges.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Port   string `json:"port,omitempty"`
}

// Graph is a workflow definition: a DAG of connector nodes.
type Graph struct {
	WorkflowID string `json:"workflow_id"`
	Nodes      []Node `json:"nodes"`
	Edges      []Edge `json:"edges"`
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Labels maps node ids to their human labels, for merge disambiguation.
func (g *Graph) Labels() map[string]string {
	labels := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		labels[n.ID] = n.Label
	}
	return labels
}

// Predecessors returns the source node ids of the node's inbound edges,
// ordered by port and then by source id so that merge order is stable.
func (g *Graph) Predecessors(nodeID string) []string {
	var inbound []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			inbound = append(inbound, e)
		}
	}
	sort.SliceStable(inbound, func(i, j int) bool {
		if inbound[i].Port != inbound[j].Port {
			return inbound[i].Port < inbound[j].Port
		}
		return inbound[i].Source < inbound[j].Source
	})

	preds := make([]string, 0, len(inbound))
	seen := make(map[string]bool)
	for _, e := range inbound {
		if !seen[e.Source] {
			seen[e.Source] = true
			preds = append(preds, e.Source)
		}
	}
	return preds
}

// Successors returns the target node ids of the node's outbound edges.
func (g *Graph) Successors(nodeID string) []string {
	var succs []string
	seen := make(map[string]bool)
	for _, e := range g.Edges {
		if e.Source == nodeID && !seen[e.Target] {
			seen[e.Target] = true
			succs = append(succs, e.Target)
		}
	}
	sort.Strings(succs)
	return succs
}
