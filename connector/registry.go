//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a fresh, unconfigured connector instance.
type Factory func() Connector

// Info is the registry listing entry for one connector type.
type Info struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
}

// Metadata is the full discovery surface for one connector type, consumed
// by external editors.
type Metadata struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         Type              `json:"type"`
	ConfigSchema []ParameterSchema `json:"config_schema"`
}

// Registry maps connector type ids to factories. It is populated once at
// startup and read-only afterwards; Get returns a fresh instance on every
// call so connectors are never shared between nodes or runs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	info      map[string]Info
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		info:      make(map[string]Info),
	}
}

// Register registers a factory under the given connector type id. The id
// must match the instances' ID() and be unique.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("connector type id cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("connector %q: factory cannot be nil", id)
	}

	probe := factory()
	if probe == nil {
		return fmt.Errorf("connector %q: factory returned nil", id)
	}
	if probe.ID() != id {
		return fmt.Errorf("connector %q: factory builds %q", id, probe.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("connector %q already registered", id)
	}
	r.factories[id] = factory
	r.info[id] = Info{ID: id, Type: probe.Type()}
	return nil
}

// MustRegister registers a factory and panics if registration fails. This is
// for startup-time registration of built-in connectors.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Get returns a fresh connector instance for the given type id.
func (r *Registry) Get(id string) (Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[id]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, id)
	}
	return factory(), nil
}

// Has checks whether a connector type id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[id]
	return exists
}

// List returns the (id, type) pairs of all registered connectors, sorted by
// id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.info))
	for _, info := range r.info {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ListMetadata returns full metadata for all registered connectors, sorted
// by id. This is what discovery endpoints serve to editors.
func (r *Registry) ListMetadata() []Metadata {
	r.mu.RLock()
	factories := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	r.mu.RUnlock()

	metadata := make([]Metadata, 0, len(factories))
	for _, f := range factories {
		c := f()
		metadata = append(metadata, Metadata{
			ID:           c.ID(),
			Name:         c.Name(),
			Type:         c.Type(),
			ConfigSchema: c.ConfigSchema(),
		})
	}
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].ID < metadata[j].ID })
	return metadata
}
