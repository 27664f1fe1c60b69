//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//

// dataflow runs data integration workflows: execute a definition file,
// list the available connectors, or serve the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"trpc.group/trpc-go/trpc-dataflow-go/connector"
	"trpc.group/trpc-go/trpc-dataflow-go/connector/builtin"
	"trpc.group/trpc-go/trpc-dataflow-go/log"
	"trpc.group/trpc-go/trpc-dataflow-go/server"
	"trpc.group/trpc-go/trpc-dataflow-go/store/sqlite"
	"trpc.group/trpc-go/trpc-dataflow-go/workflow"
)

var (
	flagDataDir  string
	flagStore    string
	flagUser     string
	flagTimeout  time.Duration
	flagAddr     string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:          "dataflow",
		Short:        "Workflow execution engine for data integration pipelines",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.SetLevel(flagLogLevel)
		},
	}
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "./data",
		"root directory for tabular-file connectors")
	root.PersistentFlags().StringVar(&flagStore, "store", "",
		"path of the SQLite record store (empty disables the store connectors)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level: debug, info, warn, error")

	runCmd := &cobra.Command{
		Use:   "run <workflow.json|workflow.yaml>",
		Short: "Execute a workflow definition and print the per-node results",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflow,
	}
	runCmd.Flags().StringVar(&flagUser, "user", "", "user id the run executes as")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Minute, "run deadline")

	connectorsCmd := &cobra.Command{
		Use:   "connectors",
		Short: "List registered connectors and their config schemas",
		RunE:  listConnectors,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "listen address")

	root.AddCommand(runCmd, connectorsCmd, serveCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRegistry wires the composition root: every built-in connector plus
// the optional SQLite record store.
func buildRegistry() (*connector.Registry, func(), error) {
	opts := builtin.Options{DataDir: flagDataDir}
	cleanup := func() {}

	if flagStore != "" {
		st, err := sqlite.Open(flagStore)
		if err != nil {
			return nil, nil, err
		}
		opts.Store = st
		cleanup = func() {
			if err := st.Close(); err != nil {
				log.Warnf("close store: %v", err)
			}
		}
	}

	reg := connector.NewRegistry()
	if err := builtin.Register(reg, opts); err != nil {
		cleanup()
		return nil, nil, err
	}
	return reg, cleanup, nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	definition, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read definition: %w", err)
	}
	graph, err := workflow.Parse(definition)
	if err != nil {
		return err
	}

	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, flagTimeout)
	defer cancelTimeout()

	results, outcome, runErr := workflow.NewExecutor(reg).Execute(ctx, graph, workflow.RunContext{
		UserID: flagUser,
	})

	out := map[string]any{"outcome": outcome}
	nodeResults := make(map[string]any, len(results))
	for nodeID, env := range results {
		nodeResults[nodeID] = env.ToMap()
	}
	out["results"] = nodeResults
	if runErr != nil {
		out["error"] = runErr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return runErr
}

func listConnectors(cmd *cobra.Command, _ []string) error {
	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reg.ListMetadata())
}

func serve(cmd *cobra.Command, _ []string) error {
	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(reg, workflow.NewExecutor(reg), server.Config{Addr: flagAddr})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	return srv.ListenAndServe()
}
