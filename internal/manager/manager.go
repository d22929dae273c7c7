// Copyright 2026 The sgcore Authors. All rights reserved.

// Package manager implements the top-level supervisor (spec.md §4.8): it
// owns the process's own Host for local NodeGroups, spawns worker
// processes (each running their own Host) for remote NodeGroups, tracks
// every NodeGroup it created regardless of which process it lives in, and
// tears everything down in dependency order on Close.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sig-graph/sgcore/internal/config"
	"github.com/sig-graph/sgcore/internal/host"
	"github.com/sig-graph/sgcore/internal/nodegroup"
	"github.com/sig-graph/sgcore/internal/pki"
	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/snapshot"
	"github.com/sig-graph/sgcore/internal/telemetry"
)

// HostKind selects where a NodeGroup is created.
type HostKind string

const (
	// HostLocal creates the NodeGroup inside the Manager's own process.
	HostLocal HostKind = "local"
	// HostRemote spawns a fresh worker process and creates the NodeGroup
	// there.
	HostRemote HostKind = "remote"
)

// groupHandle tracks one NodeGroup regardless of which process owns it.
type groupHandle struct {
	kind     HostKind
	local    *nodegroup.NodeGroup // set when kind == HostLocal
	client   *rpc.Client          // set when kind == HostRemote
	objID    uint64               // remote object id, set when kind == HostRemote
	worker   *host.Spawned        // set when kind == HostRemote
}

// Manager is the top-level supervisor a process's entrypoint constructs
// once (spec.md §4.8). Grounded on internal/agent/daemon.go's RunDaemon:
// one long-lived owner coordinating independent collaborators (there,
// Scheduler/StatsReporter; here, the local Host and any spawned remote
// Hosts) and tearing them down in a fixed order on shutdown.
type Manager struct {
	logger *slog.Logger

	mu        sync.Mutex
	localHost *host.Host
	spawner   *host.ProcessSpawner
	groups    map[string]*groupHandle

	telemetry *telemetry.Collector
	snapshot  *snapshot.Exporter
}

// New creates a Manager with its own local Host already serving on
// address, and a ProcessSpawner configured to exec workerCommand for
// HostRemote requests.
func New(address, workerCommand string, workerArgs []string, logger *slog.Logger) (*Manager, error) {
	h := host.New(logger)
	if err := h.Serve(address); err != nil {
		return nil, fmt.Errorf("manager: starting local host: %w", err)
	}
	return newManager(h, workerCommand, workerArgs, logger), nil
}

func newManager(h *host.Host, workerCommand string, workerArgs []string, logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		localHost: h,
		spawner:   &host.ProcessSpawner{Command: workerCommand, Args: workerArgs},
		groups:    make(map[string]*groupHandle),
	}
}

// NewFromConfig builds a Manager the way an entrypoint reading a
// ManagerConfig from disk does: it starts the local Host (terminating
// mutual TLS if cfg.TLS names certificate paths — see internal/pki),
// wires cfg.RateLimit into that Host's rpc.Server, and — when enabled —
// starts a telemetry.Collector and a snapshot.Exporter (using the Manager
// itself as the Exporter's Source, see DiagnosticSnapshot). ctx governs
// the snapshot exporter's AWS client setup only, not the Manager's
// lifetime.
func NewFromConfig(ctx context.Context, cfg *config.ManagerConfig, logger *slog.Logger) (*Manager, error) {
	h := host.New(logger)

	if cfg.TLS.CACert != "" {
		tlsCfg, err := pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			return nil, fmt.Errorf("manager: building server tls config: %w", err)
		}
		h.Server.TLSConfig = tlsCfg
	}

	if dscp, err := rpc.ParseDSCP(cfg.Stream.DSCPClass); err == nil {
		h.Server.DSCP = dscp
	}

	if err := h.Serve(cfg.Manager.Listen); err != nil {
		return nil, fmt.Errorf("manager: starting local host: %w", err)
	}

	m := newManager(h, cfg.Worker.Command, cfg.Worker.Args, logger)

	if cfg.TLS.CACert != "" {
		// The Manager dials spawned workers with its own server identity
		// reused as a client certificate — the same mesh-style mTLS pair
		// cmd/sgnode presents back when it dials the Manager.
		clientTLSCfg, err := pki.NewClientTLSConfig(cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			m.localHost.Close()
			return nil, fmt.Errorf("manager: building spawner tls config: %w", err)
		}
		m.spawner.TLSConfig = clientTLSCfg
	}

	if cfg.RateLimit.Enabled {
		m.localHost.Server.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	if cfg.Telemetry.Enabled {
		m.telemetry = telemetry.NewCollector(cfg.Telemetry.Interval, "/", logger)
		m.telemetry.Start()
		// Also feed the local Host's own Stats() — ListHosts reads it
		// the same way it reads a remote worker's, so the rollup's
		// "local" entry isn't the odd one out reporting a zero Snapshot.
		h.EnableTelemetry(cfg.Telemetry.Interval, "/", logger)
	}

	if cfg.Snapshot.Enabled {
		exp, err := snapshot.NewExporter(ctx, cfg.Snapshot, logger)
		if err != nil {
			m.Close(ctx)
			return nil, fmt.Errorf("manager: starting snapshot exporter: %w", err)
		}
		if err := exp.Start(ctx, m); err != nil {
			m.Close(ctx)
			return nil, fmt.Errorf("manager: scheduling snapshot export: %w", err)
		}
		m.snapshot = exp
	}

	return m, nil
}

// diagnosticSnapshot is the JSON shape DiagnosticSnapshot emits for
// snapshot.Exporter.
type diagnosticSnapshot struct {
	At         time.Time           `json:"at"`
	NodeGroups []string            `json:"nodegroups"`
	Telemetry  *telemetry.Snapshot `json:"telemetry,omitempty"`
	Hosts      []HostStats         `json:"hosts,omitempty"`
}

// DiagnosticSnapshot implements snapshot.Source: it reports the tracked
// nodegroup names, the fleet-wide host telemetry rollup (ListHosts), and —
// if the Manager's own telemetry is enabled — its latest resource sample.
// It never includes enough information to reconstruct topology — only
// names — matching spec.md's explicit exclusion of persistence.
func (m *Manager) DiagnosticSnapshot(ctx context.Context) ([]byte, error) {
	snap := diagnosticSnapshot{
		At:         time.Now(),
		NodeGroups: m.ListNodeGroups(),
		Hosts:      m.ListHosts(ctx),
	}
	if m.telemetry != nil {
		t := m.telemetry.Latest()
		snap.Telemetry = &t
	}
	return json.Marshal(snap)
}

// LocalHost returns the Manager's own in-process Host.
func (m *Manager) LocalHost() *host.Host {
	return m.localHost
}

// CreateNodeGroup creates a NodeGroup named name on the requested kind of
// host. For HostRemote this spawns a brand-new worker process per call,
// the simplest policy satisfying spec.md §4.8 and consistent with the
// teacher's one-reconnect-loop-per-connection granularity rather than a
// shared worker pool.
func (m *Manager) CreateNodeGroup(ctx context.Context, name string, kind HostKind) error {
	m.mu.Lock()
	if _, exists := m.groups[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("manager: nodegroup %q already exists", name)
	}
	m.mu.Unlock()

	switch kind {
	case HostLocal:
		g, _, err := m.localHost.CreateNodeGroup(name)
		if err != nil {
			return fmt.Errorf("manager: creating local nodegroup %q: %w", name, err)
		}
		m.mu.Lock()
		m.groups[name] = &groupHandle{kind: HostLocal, local: g}
		m.mu.Unlock()
		return nil

	case HostRemote:
		worker, err := m.spawner.Spawn(ctx)
		if err != nil {
			return fmt.Errorf("manager: spawning worker for nodegroup %q: %w", name, err)
		}
		v, err := worker.Client.CallSync(ctx, host.WellKnownHostObjID,
			[]rpcwire.AttrStep{rpcwire.Attr("create_nodegroup")},
			[]rpcwire.Value{rpcwire.String(name)}, nil, rpc.ReturnProxy)
		if err != nil {
			worker.Client.Close()
			return fmt.Errorf("manager: remote create_nodegroup %q: %w", name, err)
		}
		if v.Kind != rpcwire.KindProxy {
			worker.Client.Close()
			return fmt.Errorf("manager: remote create_nodegroup %q did not return a proxy", name)
		}

		m.mu.Lock()
		m.groups[name] = &groupHandle{kind: HostRemote, client: worker.Client, objID: v.Proxy.ObjID, worker: worker}
		m.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("manager: unknown host kind %q", kind)
	}
}

// RemoveNodeGroup closes and forgets the named NodeGroup, wherever it
// lives.
func (m *Manager) RemoveNodeGroup(ctx context.Context, name string) error {
	m.mu.Lock()
	g, ok := m.groups[name]
	if ok {
		delete(m.groups, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("manager: no such nodegroup %q", name)
	}
	return closeGroup(ctx, g)
}

func closeGroup(ctx context.Context, g *groupHandle) error {
	switch g.kind {
	case HostLocal:
		return g.local.Close()
	case HostRemote:
		_, err := g.client.CallSync(ctx, g.objID, []rpcwire.AttrStep{rpcwire.Attr("close")}, nil, nil, rpc.ReturnNone)
		g.client.Close()
		if g.worker != nil && g.worker.Cmd != nil && g.worker.Cmd.Process != nil {
			g.worker.Cmd.Process.Kill()
		}
		return err
	default:
		return nil
	}
}

// HostStats is one process's resource sample in a ListHosts rollup:
// either the Manager's own local Host or one spawned worker process.
type HostStats struct {
	Name    string             `json:"name"`
	Address string             `json:"address"`
	Stats   telemetry.Snapshot `json:"stats"`
	Err     error              `json:"-"`
	ErrMsg  string             `json:"error,omitempty"`
}

// ListHosts rolls up telemetry.Snapshot from the Manager's local Host and
// every remote worker process it has spawned (spec.md §4.11's fleet-wide
// telemetry view) — the local half reads host.Host.Stats() directly, the
// remote half fetches it with a "stats" get_obj_attr call against the
// worker's well-known Host object, the same object every create_nodegroup
// call already dials. A worker that fails to answer reports its Err
// instead of being dropped from the rollup silently.
func (m *Manager) ListHosts(ctx context.Context) []HostStats {
	m.mu.Lock()
	remotes := make(map[string]*groupHandle, len(m.groups))
	for name, g := range m.groups {
		if g.kind == HostRemote {
			remotes[name] = g
		}
	}
	m.mu.Unlock()

	out := make([]HostStats, 0, len(remotes)+1)
	out = append(out, HostStats{Name: "local", Address: m.localHost.Address(), Stats: m.localHost.Stats()})

	for name, g := range remotes {
		hs := HostStats{Name: name, Address: g.worker.Address}
		v, err := g.client.GetAttr(ctx, host.WellKnownHostObjID, []rpcwire.AttrStep{rpcwire.Attr("stats")}, rpc.ReturnValue)
		if err != nil {
			hs.Err, hs.ErrMsg = err, err.Error()
			out = append(out, hs)
			continue
		}
		snap, err := host.ValueToSnapshot(v)
		if err != nil {
			hs.Err, hs.ErrMsg = err, err.Error()
			out = append(out, hs)
			continue
		}
		hs.Stats = snap
		out = append(out, hs)
	}
	return out
}

// ListNodeGroups returns the names of every NodeGroup the Manager is
// tracking, regardless of which process it lives in.
func (m *Manager) ListNodeGroups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.groups))
	for name := range m.groups {
		out = append(out, name)
	}
	return out
}

// Close tears down every tracked NodeGroup, then the local Host, in that
// order — children before the parent, the same ordering
// internal/agent/daemon.go applies when it stops StatsReporter before the
// Scheduler it reports on.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	groups := make([]*groupHandle, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.groups = make(map[string]*groupHandle)
	m.mu.Unlock()

	if m.snapshot != nil {
		m.snapshot.Stop()
	}
	if m.telemetry != nil {
		m.telemetry.Stop()
	}

	var firstErr error
	for _, g := range groups {
		if err := closeGroup(ctx, g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.localHost.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
