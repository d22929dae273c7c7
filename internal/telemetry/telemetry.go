// Copyright 2026 The sgcore Authors. All rights reserved.

// Package telemetry periodically samples host resource usage for the
// Manager and for worker processes, and logs it structurally. This is
// diagnostic-only — it never feeds back into scheduling or backpressure
// decisions.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time resource reading.
type Snapshot struct {
	At          time.Time `json:"at"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemUsedPct  float64   `json:"mem_used_percent"`
	DiskUsedPct float64   `json:"disk_used_percent"`
}

// Collector samples host resource usage on a fixed interval, grounded on
// the teacher's StatsReporter: a ticker-driven goroutine with a
// cancel-and-wait Stop, reporting through the process's structured
// logger rather than any separate metrics pipeline.
type Collector struct {
	interval  time.Duration
	diskPath  string
	logger    *slog.Logger
	startTime time.Time

	mu   sync.Mutex
	last Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a Collector sampling every interval. diskPath is
// the filesystem path disk usage is measured against (e.g. "/").
func NewCollector(interval time.Duration, diskPath string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{
		interval:  interval,
		diskPath:  diskPath,
		logger:    logger.With("component", "telemetry"),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins the sampling goroutine.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.sample(ctx)
		for {
			select {
			case <-ticker.C:
				c.sample(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("telemetry collector started", "interval", c.interval)
}

// Stop cancels sampling and waits for the goroutine to exit.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	c.logger.Info("telemetry collector stopped")
}

// Latest returns the most recent sample taken. Before the first sample it
// returns the zero Snapshot.
func (c *Collector) Latest() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Collector) sample(ctx context.Context) {
	snap := Snapshot{At: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else if err != nil {
		c.logger.Warn("telemetry cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemUsedPct = vm.UsedPercent
	} else {
		c.logger.Warn("telemetry mem sample failed", "error", err)
	}

	if du, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		snap.DiskUsedPct = du.UsedPercent
	} else {
		c.logger.Warn("telemetry disk sample failed", "error", err, "path", c.diskPath)
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	c.logger.Info("telemetry sample",
		"uptime_s", time.Since(c.startTime).Seconds(),
		"cpu_percent", snap.CPUPercent,
		"mem_used_percent", snap.MemUsedPct,
		"disk_used_percent", snap.DiskUsedPct,
	)
}
