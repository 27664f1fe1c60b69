//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package script executes user-supplied JavaScript against records. Each run
// gets a fresh goja runtime with no host access beyond the bound input, so
// scripts from one node can never observe another node's state.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = 10 * time.Second

// ErrInterrupted reports a script stopped by cancellation or timeout.
var ErrInterrupted = errors.New("script interrupted")

// Engine evaluates scripts with a per-run wall-clock budget.
type Engine struct {
	timeout time.Duration
}

// New creates an engine. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{timeout: timeout}
}

// RunRecord evaluates source with a single record bound as `record`. The
// script's return value becomes the output record; a script that returns
// nothing may instead assign to the global `result` or mutate `record` in
// place. Returning null drops the record (nil, nil).
func (e *Engine) RunRecord(ctx context.Context, source string, record map[string]any) (map[string]any, error) {
	out, err := e.run(ctx, source, "record", record)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("script returned %T, want an object", out)
	}
	return m, nil
}

// RunBatch evaluates source with the full record slice bound as `records`.
// The script may return an array of objects or a single object (treated as a
// one-record batch); as with RunRecord, `result` and in-place mutation are
// accepted fallbacks.
func (e *Engine) RunBatch(ctx context.Context, source string, records []map[string]any) ([]map[string]any, error) {
	bound := make([]any, len(records))
	for i, r := range records {
		bound[i] = r
	}

	out, err := e.run(ctx, source, "records", bound)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		batch := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("script result[%d] is %T, want an object", i, item)
			}
			batch = append(batch, m)
		}
		return batch, nil
	default:
		return nil, fmt.Errorf("script returned %T, want an object or array", out)
	}
}

// run wraps the source in a function body, evaluates it, and resolves the
// script's output with the documented fallback chain.
func (e *Engine) run(ctx context.Context, source, bindName string, bindValue any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set(bindName, bindValue); err != nil {
		return nil, fmt.Errorf("bind %s: %w", bindName, err)
	}
	// console.log is accepted but discarded; scripts have no output channel.
	if err := vm.Set("console", map[string]any{
		"log":   func(...any) {},
		"warn":  func(...any) {},
		"error": func(...any) {},
	}); err != nil {
		return nil, fmt.Errorf("bind console: %w", err)
	}

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchdogDone:
		}
	}()

	// The function wrapper makes bare `return` statements legal.
	value, err := vm.RunString("(function() {\n" + source + "\n})()")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}

	if isMissing(value) {
		// Scripts without a return statement commonly assign the global
		// `result` or mutate the bound input in place.
		if result := vm.Get("result"); !isMissing(result) {
			return normalize(result.Export()), nil
		}
		return normalize(bindValue), nil
	}
	if goja.IsNull(value) {
		return nil, nil
	}
	return normalize(value.Export()), nil
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v)
}

// normalize rewrites goja export artifacts into the engine's canonical value
// set, folding int64 into float64 so number fields stay uniform.
func normalize(v any) any {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
