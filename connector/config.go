//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package connector

import (
	"encoding/json"
	"strconv"
)

// Config holds a node's static configuration values. Workflow definitions
// arrive as JSON, so values are JSON-shaped: strings, float64 numbers,
// bools, maps, and slices. The typed getters tolerate the usual drift
// (numbers as strings, ints vs floats) so connectors stay terse.
type Config map[string]any

// Has reports whether the key is present, regardless of value.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Get returns the raw value for key, or nil.
func (c Config) Get(key string) any {
	return c[key]
}

// GetString returns the string value for key, or "" when absent or not a
// string.
func (c Config) GetString(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// GetStringDefault returns the string value for key, or def when absent or
// empty.
func (c Config) GetStringDefault(key, def string) string {
	if v := c.GetString(key); v != "" {
		return v
	}
	return def
}

// GetBool returns the bool value for key, or def when absent or not a bool.
func (c Config) GetBool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the integer value for key, accepting JSON float64, native
// ints, json.Number, and numeric strings. Returns def when absent or not
// convertible.
func (c Config) GetInt(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns the float value for key, or def when absent or not
// convertible.
func (c Config) GetFloat(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetStringMap returns the map value for key with all values stringified,
// or nil when absent. Useful for header-style configuration.
func (c Config) GetStringMap(key string) map[string]string {
	raw, ok := c[key]
	if !ok || raw == nil {
		return nil
	}
	out := make(map[string]string)
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
				continue
			}
			b, err := json.Marshal(v)
			if err == nil {
				out[k] = string(b)
			}
		}
	default:
		return nil
	}
	return out
}

// GetSlice returns the slice value for key, or nil.
func (c Config) GetSlice(key string) []any {
	if v, ok := c[key].([]any); ok {
		return v
	}
	return nil
}
