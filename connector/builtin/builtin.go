//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package builtin provides the built-in connectors: tabular-file source and
// destination, HTTP source and destination, record-store source and
// destination, pass-through converter, field transform processor, and the
// embedded JavaScript processor.
//
// Connectors receive their process-level dependencies (data directory, HTTP
// client, record store) through Options at registration time, so the
// registry keeps its zero-argument factory contract while the composition
// root stays explicit.
package builtin

import (
	"net/http"
	"time"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/script"
	"trpc.group/trpc-go/trpc-dataflow-go/store"
)

// Connector type ids.
const (
	TypeCSVSource        = "csv_source"
	TypeCSVDestination   = "csv_destination"
	TypeHTTPSource       = "http_source"
	TypeHTTPDestination  = "http_destination"
	TypeStoreSource      = "store_source"
	TypeStoreDestination = "store_destination"
	TypeConverter        = "converter"
	TypeTransform        = "transform"
	TypeScript           = "script"
)

// Options carries the process-level dependencies shared by the built-in
// connectors.
type Options struct {
	// DataDir is the root directory for tabular-file connectors. Source
	// paths resolve under it; destination paths resolve under its
	// storage/workflow_results subdirectory unless they use the uploads/
	// prefix.
	DataDir string

	// HTTPClient is used by the HTTP connectors. Defaults to a client with
	// no global timeout (per-request timeouts come from connector config).
	HTTPClient *http.Client

	// Store backs the record-store connectors. When nil those connectors
	// register but fail at execution.
	Store store.RecordStore

	// ScriptTimeout bounds one script evaluation. Zero means
	// script.DefaultTimeout.
	ScriptTimeout time.Duration
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{}
}

// Register registers every built-in connector on the registry. It is called
// exactly once at startup.
func Register(reg *connector.Registry, opts Options) error {
	engine := script.New(opts.ScriptTimeout)

	factories := map[string]connector.Factory{
		TypeCSVSource:        func() connector.Connector { return &CSVSource{dataDir: opts.DataDir} },
		TypeCSVDestination:   func() connector.Connector { return &CSVDestination{dataDir: opts.DataDir} },
		TypeHTTPSource:       func() connector.Connector { return &HTTPSource{client: opts.httpClient()} },
		TypeHTTPDestination:  func() connector.Connector { return &HTTPDestination{client: opts.httpClient()} },
		TypeStoreSource:      func() connector.Connector { return &StoreSource{store: opts.Store} },
		TypeStoreDestination: func() connector.Connector { return &StoreDestination{store: opts.Store} },
		TypeConverter:        func() connector.Connector { return &Converter{} },
		TypeTransform:        func() connector.Connector { return &Transform{} },
		TypeScript:           func() connector.Connector { return &Script{engine: engine} },
	}
	for id, factory := range factories {
		if err := reg.Register(id, factory); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers every built-in connector and panics on failure.
func MustRegister(reg *connector.Registry, opts Options) {
	if err := Register(reg, opts); err != nil {
		panic(err)
	}
}
