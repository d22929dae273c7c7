// Copyright 2026 The sgcore Authors. All rights reserved.

// Command sgmanager is the top-level supervisor process: it owns a local
// Host for local NodeGroups, spawns sgnode worker processes for remote
// NodeGroups, and optionally runs telemetry collection and diagnostic
// snapshot export.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sig-graph/sgcore/internal/applog"
	"github.com/sig-graph/sgcore/internal/config"
	"github.com/sig-graph/sgcore/internal/manager"
)

func main() {
	configPath := flag.String("config", "/etc/sgcore/manager.yaml", "path to manager config file")
	flag.Parse()

	cfg, err := config.LoadManagerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := applog.New(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m, err := manager.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start manager", "error", err)
		os.Exit(1)
	}

	logger.Info("sgmanager serving", "address", m.LocalHost().Address())
	<-ctx.Done()

	if err := m.Close(context.Background()); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}
