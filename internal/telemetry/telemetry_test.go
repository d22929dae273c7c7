// Copyright 2026 The sgcore Authors. All rights reserved.

package telemetry

import (
	"testing"
	"time"
)

func TestCollectorStartStopProducesSample(t *testing.T) {
	c := NewCollector(20*time.Millisecond, "/", nil)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Latest().At.IsZero() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a telemetry sample within the deadline")
}

func TestNewCollectorAppliesDefaults(t *testing.T) {
	c := NewCollector(0, "", nil)
	if c.interval != 10*time.Second {
		t.Errorf("expected default interval 10s, got %s", c.interval)
	}
	if c.diskPath != "/" {
		t.Errorf("expected default disk path /, got %q", c.diskPath)
	}
}
