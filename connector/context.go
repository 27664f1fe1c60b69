//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package connector

import "context"

type contextKey int

const (
	userIDKey contextKey = iota
	nodeIDKey
)

// ContextWithUser returns a context carrying the authenticated user id for
// the current run. Connectors that scope data per user (the record-store
// connectors) read it back with UserID.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id carried by the context, or "".
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithNode returns a context carrying the id of the node currently
// executing. Connectors that infer schemas use it as the producing node id
// for provenance.
func ContextWithNode(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// NodeID returns the executing node id carried by the context, or "".
func NodeID(ctx context.Context) string {
	if v, ok := ctx.Value(nodeIDKey).(string); ok {
		return v
	}
	return ""
}
