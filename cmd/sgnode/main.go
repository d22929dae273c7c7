// Copyright 2026 The sgcore Authors. All rights reserved.

// Command sgnode is the worker process a Manager spawns for every
// HostRemote NodeGroup: it starts a Host, binds its RPC server, prints
// the host.ProcessSpawner handshake line to stdout, and serves until
// asked to stop.
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
	"github.com/sig-graph/sgcore/internal/host"
	"github.com/sig-graph/sgcore/internal/pki"
	"github.com/sig-graph/sgcore/internal/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to node config file (optional)")
	listen := flag.String("listen", "127.0.0.1:0", "rpc listen address")
	flag.Parse()

	cfg := &config.NodeConfig{}
	if *configPath != "" {
		loaded, err := config.LoadNodeConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.Logging.Level = "info"
		cfg.Logging.Format = "json"
	}
	if *listen != "" {
		cfg.Listen.Address = *listen
	}

	logger, closer := applog.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	h := host.New(logger)

	if cfg.TLS.CACert != "" {
		// The worker's own leaf certificate doubles as its server identity:
		// the same node cert the Manager dials it with (internal/pki's
		// client config) also terminates mTLS on the way in.
		tlsCfg, err := pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.ClientCert, cfg.TLS.ClientKey)
		if err != nil {
			logger.Error("failed to build server tls config", "error", err)
			os.Exit(1)
		}
		h.Server.TLSConfig = tlsCfg
	}

	if dscp, err := rpc.ParseDSCP(cfg.Stream.DSCPClass); err == nil {
		h.Server.DSCP = dscp
	}

	if cfg.Telemetry.Enabled {
		h.EnableTelemetry(cfg.Telemetry.Interval, "/", logger)
	}

	if err := h.Serve(cfg.Listen.Address); err != nil {
		logger.Error("failed to start host", "error", err)
		os.Exit(1)
	}

	// Handshake line host.ProcessSpawner's parent process blocks on
	// reading from our stdout — must be flushed before anything else is
	// written there.
	fmt.Println(host.ReadyLine(h.Address()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("sgnode worker serving", "address", h.Address())
	<-ctx.Done()

	if err := h.Close(); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}
