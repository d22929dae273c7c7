// Copyright 2026 The sgcore Authors. All rights reserved.

package manager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sig-graph/sgcore/internal/config"
)

// Remote-host creation is exercised by internal/host's tests and by
// ProcessSpawner's handshake logic directly; it is not unit-tested here
// since it requires exec'ing a built sgnode worker binary.

func TestCreateAndRemoveLocalNodeGroup(t *testing.T) {
	m, err := New("127.0.0.1:0", "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.CreateNodeGroup(ctx, "g1", HostLocal); err != nil {
		t.Fatalf("CreateNodeGroup: %v", err)
	}
	if err := m.CreateNodeGroup(ctx, "g1", HostLocal); err == nil {
		t.Fatalf("expected error creating duplicate nodegroup name")
	}

	names := m.ListNodeGroups()
	if len(names) != 1 || names[0] != "g1" {
		t.Fatalf("expected exactly [g1], got %v", names)
	}

	if err := m.RemoveNodeGroup(ctx, "g1"); err != nil {
		t.Fatalf("RemoveNodeGroup: %v", err)
	}
	if len(m.ListNodeGroups()) != 0 {
		t.Fatalf("expected no nodegroups after removal")
	}
	if m.LocalHost().NodeGroup("g1") != nil {
		t.Fatalf("expected underlying host nodegroup to be gone too")
	}
}

func TestCloseTearsDownTrackedGroups(t *testing.T) {
	m, err := New("127.0.0.1:0", "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.CreateNodeGroup(ctx, "g1", HostLocal); err != nil {
		t.Fatalf("CreateNodeGroup: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(m.ListNodeGroups()) != 0 {
		t.Fatalf("expected Close to clear tracked groups")
	}
}

func TestNewFromConfigWithTelemetryAndRateLimit(t *testing.T) {
	cfg := &config.ManagerConfig{
		Manager: config.ManagerListen{Listen: "127.0.0.1:0"},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 500,
			Burst:             50,
		},
		Telemetry: config.TelemetryConfig{
			Enabled:  true,
			Interval: 20 * time.Millisecond,
		},
	}

	m, err := NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer m.Close(context.Background())

	if m.LocalHost().Server.Limiter == nil {
		t.Fatal("expected rate limiter to be wired onto the local host's server")
	}

	payload, err := m.DiagnosticSnapshot(context.Background())
	if err != nil {
		t.Fatalf("DiagnosticSnapshot: %v", err)
	}
	var decoded diagnosticSnapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshaling diagnostic snapshot: %v", err)
	}
	if decoded.NodeGroups == nil {
		t.Error("expected a (possibly empty) nodegroups slice")
	}
}
