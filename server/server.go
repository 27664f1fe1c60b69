//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// Package server exposes the run-invocation HTTP surface: connector
// discovery for editors and synchronous workflow execution. Auth and
// workflow persistence are host concerns and stay outside this package.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/envelope"
	"trpc.group/trpc-go/trpc-dataflow-go/log"
	"trpc.group/trpc-go/trpc-dataflow-go/workflow"
)

const (
	defaultPoolSize   = 16
	defaultRunTimeout = 10 * time.Minute
	maxDefinitionSize = 4 << 20

	userHeader = "X-User-Id"
)

// Config tunes the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// PoolSize caps the number of workflow runs executing at once.
	PoolSize int
	// RunTimeout is the per-run deadline.
	RunTimeout time.Duration
	// AllowedOrigins configures CORS; empty allows every origin.
	AllowedOrigins []string
}

// Server serves connector discovery and workflow runs.
type Server struct {
	registry   *connector.Registry
	executor   *workflow.Executor
	pool       *ants.Pool
	handler    http.Handler
	httpServer *http.Server
	runTimeout time.Duration
	logger     log.Logger
}

// New creates a server over the given registry and executor.
func New(registry *connector.Registry, executor *workflow.Executor, cfg Config) (*Server, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create run pool: %w", err)
	}

	s := &Server{
		registry:   registry,
		executor:   executor,
		pool:       pool,
		runTimeout: cfg.RunTimeout,
		logger:     log.Default,
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/connectors", s.handleListConnectors).Methods(http.MethodGet)
	api.HandleFunc("/workflows/run", s.handleRunWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", userHeader},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("dataflow server listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and releases the run pool.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.pool.Release()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleListConnectors serves the discovery surface consumed by editors:
// every registered connector with its config schema.
func (s *Server) handleListConnectors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connectors": s.registry.ListMetadata(),
	})
}

// runResponse is the wire shape of one finished run.
type runResponse struct {
	RunID   string                    `json:"run_id"`
	Outcome workflow.Outcome          `json:"outcome"`
	Results map[string]map[string]any `json:"results"`
	Error   string                    `json:"error,omitempty"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	graph, err := workflow.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rc := workflow.RunContext{
		RunID:  uuid.NewString(),
		UserID: r.Header.Get(userHeader),
		Logger: s.logger,
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	var (
		results map[string]*envelope.DataEnvelope
		outcome workflow.Outcome
		runErr  error
		done    = make(chan struct{})
	)
	// The pool bounds concurrent runs process-wide; the request blocks
	// until its run finishes or the deadline fires.
	submitErr := s.pool.Submit(func() {
		defer close(done)
		results, outcome, runErr = s.executor.Execute(ctx, graph, rc)
	})
	if submitErr != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("run pool: %w", submitErr))
		return
	}
	<-done

	resp := runResponse{
		RunID:   rc.RunID,
		Outcome: outcome,
		Results: make(map[string]map[string]any, len(results)),
	}
	for nodeID, env := range results {
		resp.Results[nodeID] = env.ToMap()
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}

	status := http.StatusOK
	switch {
	case errors.Is(runErr, workflow.ErrInvalidGraph), errors.Is(runErr, workflow.ErrCyclicGraph):
		status = http.StatusBadRequest
	case outcome == workflow.OutcomeFailed:
		status = http.StatusUnprocessableEntity
	case outcome == workflow.OutcomeCancelled:
		status = http.StatusRequestTimeout
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
