// Copyright 2026 The sgcore Authors. All rights reserved.

// Package host implements the per-process RPC bootstrap server (spec.md
// §4.7): a Host owns zero or more NodeGroups in its own process and
// exposes create_nodegroup/close_nodegroup over RPC so a remote Manager
// can drive it, plus a ProcessSpawner for launching a fresh worker
// process running its own Host.
package host

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sig-graph/sgcore/internal/nodegroup"
	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/telemetry"
)

// WellKnownHostObjID is the object id a Host always registers itself
// under, since it is always the first Register call made against its own
// Registry (spec.md §4.7 "every process exposes exactly one Host at a
// well-known object id"). A freshly dialed Client can therefore call_obj
// against a Host without a prior get_proxy round trip.
const WellKnownHostObjID uint64 = 1

// Host is the bootstrap RPC target every sgnode worker process starts with
// (spec.md §4.7 "every process exposes exactly one Host at a well-known
// object id"). Grounded on cmd/nbackup-server/main.go's single top-level
// server.Run(cfg) — one long-lived listener per process that every other
// component hangs off of.
type Host struct {
	mu     sync.Mutex
	groups map[string]*nodegroup.NodeGroup

	Server   *rpc.Server
	Registry *rpc.Registry

	// HostObjID is the well-known object id the Host itself is
	// registered under, so a freshly dialed Client can call_obj against
	// it without a prior get_proxy round trip.
	HostObjID uint64

	// telemetry, when non-nil (see EnableTelemetry), samples this
	// process's own resource usage so a Manager can roll it up through
	// Stats — spec.md §4.11's per-host half of the fleet-wide telemetry
	// rollup, the other half being manager.Manager.ListHosts.
	telemetry *telemetry.Collector
}

// New creates a Host with its own object registry and RPC server, and
// registers itself under a well-known object id.
func New(logger *slog.Logger) *Host {
	registry := rpc.NewRegistry()
	h := &Host{
		groups:   make(map[string]*nodegroup.NodeGroup),
		Registry: registry,
	}
	h.Server = rpc.NewServer(registry, logger)
	h.HostObjID = registry.Register(h, "host")
	registry.Bind("host", h.HostObjID)
	return h
}

// EnableTelemetry starts a telemetry.Collector sampling this process's own
// resource usage every interval, so Stats (and, transitively, a Manager's
// fleet-wide ListHosts rollup) reports real numbers instead of a zero
// Snapshot. Call before Close; a Host that never calls this still answers
// Stats, just with the zero Snapshot.
func (h *Host) EnableTelemetry(interval time.Duration, diskPath string, logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.telemetry != nil {
		return
	}
	h.telemetry = telemetry.NewCollector(interval, diskPath, logger)
	h.telemetry.Start()
}

// Stats returns the most recent resource sample taken for this process, or
// the zero Snapshot if EnableTelemetry was never called.
func (h *Host) Stats() telemetry.Snapshot {
	h.mu.Lock()
	t := h.telemetry
	h.mu.Unlock()
	if t == nil {
		return telemetry.Snapshot{}
	}
	return t.Latest()
}

// Serve binds the Host's RPC server to address ("127.0.0.1:0" for an
// OS-assigned port) and starts accepting connections.
func (h *Host) Serve(address string) error {
	return h.Server.Serve(address)
}

// Address returns the bound RPC address, valid after Serve returns
// successfully.
func (h *Host) Address() string {
	return h.Server.Address
}

// CreateNodeGroup creates a new NodeGroup under name, registers it with
// the Host's own object registry (so it is reachable via get_proxy/
// call_obj from a remote Manager), and returns it.
func (h *Host) CreateNodeGroup(name string) (*nodegroup.NodeGroup, uint64, error) {
	if err := validateNodeGroupName(name); err != nil {
		return nil, 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.groups[name]; exists {
		return nil, 0, fmt.Errorf("host: nodegroup %q already exists", name)
	}
	g := nodegroup.New(name, h.Registry, h.Address())
	h.groups[name] = g
	objID := h.Registry.Register(g, "nodegroup")
	h.Registry.Bind(name, objID)
	return g, objID, nil
}

// CloseNodeGroup closes and removes the named NodeGroup.
func (h *Host) CloseNodeGroup(name string) error {
	h.mu.Lock()
	g, ok := h.groups[name]
	if ok {
		delete(h.groups, name)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("host: no such nodegroup %q", name)
	}
	h.Registry.Unbind(name)
	return g.Close()
}

// NodeGroup returns the named NodeGroup, or nil.
func (h *Host) NodeGroup(name string) *nodegroup.NodeGroup {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[name]
}

// ListNodeGroups returns every NodeGroup name currently owned by this Host.
func (h *Host) ListNodeGroups() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.groups))
	for name := range h.groups {
		out = append(out, name)
	}
	return out
}

// Close tears down every owned NodeGroup, stops telemetry sampling (if
// enabled), and stops the RPC server.
func (h *Host) Close() error {
	h.mu.Lock()
	groups := make([]*nodegroup.NodeGroup, 0, len(h.groups))
	for _, g := range h.groups {
		groups = append(groups, g)
	}
	h.groups = make(map[string]*nodegroup.NodeGroup)
	t := h.telemetry
	h.telemetry = nil
	h.mu.Unlock()

	if t != nil {
		t.Stop()
	}

	var firstErr error
	for _, g := range groups {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.Server.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// RPCGetAttr implements rpc.Dispatchable.
func (h *Host) RPCGetAttr(attrs []rpcwire.AttrStep, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("host: unknown attribute path %v", attrs)
	}
	switch attrs[0].Name {
	case "address":
		return rpcwire.String(h.Address()), nil
	case "nodegroups":
		names := h.ListNodeGroups()
		vals := make([]rpcwire.Value, len(names))
		for i, n := range names {
			vals[i] = rpcwire.String(n)
		}
		return rpcwire.Slice(vals), nil
	case "stats":
		return snapshotToValue(h.Stats()), nil
	default:
		return rpcwire.Value{}, fmt.Errorf("host: unknown attribute %q", attrs[0].Name)
	}
}

// snapshotToValue encodes a telemetry.Snapshot as an rpcwire.Map so it can
// travel over the same codec as every other remotely readable attribute —
// at is carried as Unix nanoseconds since rpcwire has no native time kind.
func snapshotToValue(s telemetry.Snapshot) rpcwire.Value {
	return rpcwire.Map(map[string]rpcwire.Value{
		"at_unix_nanos":     rpcwire.Int(s.At.UnixNano()),
		"cpu_percent":       rpcwire.Float(s.CPUPercent),
		"mem_used_percent":  rpcwire.Float(s.MemUsedPct),
		"disk_used_percent": rpcwire.Float(s.DiskUsedPct),
	})
}

// valueToSnapshot decodes the rpcwire.Map snapshotToValue produces, the
// inverse manager.Manager.ListHosts uses to read a remote worker's stats.
func valueToSnapshot(v rpcwire.Value) (telemetry.Snapshot, error) {
	if v.Kind != rpcwire.KindMap {
		return telemetry.Snapshot{}, fmt.Errorf("host: stats value is not a map")
	}
	m := v.Map
	return telemetry.Snapshot{
		At:          time.Unix(0, m["at_unix_nanos"].Int),
		CPUPercent:  m["cpu_percent"].Float,
		MemUsedPct:  m["mem_used_percent"].Float,
		DiskUsedPct: m["disk_used_percent"].Float,
	}, nil
}

// ValueToSnapshot decodes a Stats attribute value read back over RPC
// (rpc.Client.GetAttr against WellKnownHostObjID/"stats") into a
// telemetry.Snapshot. Exported for manager.Manager.ListHosts, which has no
// other way to interpret a remote Host's stats reply.
func ValueToSnapshot(v rpcwire.Value) (telemetry.Snapshot, error) {
	return valueToSnapshot(v)
}

// RPCCall implements rpc.Dispatchable, exposing create_nodegroup/
// close_nodegroup/close as remotely callable (spec.md §4.7).
func (h *Host) RPCCall(attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("host: unknown method path %v", attrs)
	}
	switch attrs[0].Name {
	case "create_nodegroup":
		if len(args) != 1 {
			return rpcwire.Value{}, fmt.Errorf("host: create_nodegroup wants (name)")
		}
		_, objID, err := h.CreateNodeGroup(args[0].Str)
		if err != nil {
			return rpcwire.Value{}, err
		}
		rec := &rpcwire.ProxyRecord{Address: h.Address(), ObjID: objID, TypeName: "nodegroup"}
		return rpcwire.FromProxy(rec), nil
	case "close_nodegroup":
		if len(args) != 1 {
			return rpcwire.Value{}, fmt.Errorf("host: close_nodegroup wants (name)")
		}
		return rpcwire.Nil(), h.CloseNodeGroup(args[0].Str)
	case "close":
		return rpcwire.Nil(), h.Close()
	default:
		return rpcwire.Value{}, fmt.Errorf("host: unknown method %q", attrs[0].Name)
	}
}
