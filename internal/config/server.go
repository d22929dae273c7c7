// Copyright 2026 The sgcore Authors. All rights reserved.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/sig-graph/sgcore/internal/rpc"
)

// ManagerConfig is the configuration of the top-level supervisor process:
// the one long-lived process that owns a local Host and spawns worker
// processes for remote NodeGroups. Grounded on the teacher's
// ServerConfig — the Manager is this system's central authority, the
// same role the backup server played for its agents.
type ManagerConfig struct {
	Manager   ManagerListen   `yaml:"manager"`
	TLS       TLSServer       `yaml:"tls"`
	Worker    WorkerSpawn     `yaml:"worker"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Logging   LoggingInfo     `yaml:"logging"`
}

// ManagerListen is the address the Manager's own local Host binds.
type ManagerListen struct {
	Listen string `yaml:"listen"`
}

// TLSServer holds the mTLS certificate paths a Manager presents to
// inbound worker/telemetry connections.
type TLSServer struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// WorkerSpawn configures the external command the Manager execs for every
// HostRemote NodeGroup creation (see host.ProcessSpawner).
type WorkerSpawn struct {
	Command string   `yaml:"command"` // default: "sgnode"
	Args    []string `yaml:"args"`
}

// RateLimitConfig configures the optional token bucket each rpc.Server
// enforces across its accepted connections.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 2000
	Burst             int     `yaml:"burst"`                // default: 200
}

// TelemetryConfig configures how often a process samples its own host
// resource stats (internal/telemetry). A Manager's setting governs only its
// own process; each worker samples on its own NodeConfig interval, and the
// Manager reads a worker's latest sample on demand (manager.ListHosts).
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default: 10s, minimum: 1s
}

// SnapshotConfig configures the optional diagnostic export sink
// (internal/snapshot) the Manager can run on a cron schedule: a periodic
// dump of nodegroup/telemetry state to object storage for later
// inspection. This is a diagnostics export only, never the mechanism by
// which topology is restored on restart.
type SnapshotConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Schedule        string `yaml:"schedule"` // standard 5-field cron expression
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`           // default: "sgcore-snapshots/"
	CompressionMode string `yaml:"compression_mode"` // gzip|none (default: gzip)
}

// LoadManagerConfig reads and validates the Manager's YAML configuration
// file.
func LoadManagerConfig(path string) (*ManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manager config: %w", err)
	}

	var cfg ManagerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing manager config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating manager config: %w", err)
	}

	return &cfg, nil
}

func (c *ManagerConfig) validate() error {
	if c.Manager.Listen == "" {
		return fmt.Errorf("manager.listen is required")
	}

	if c.Worker.Command == "" {
		c.Worker.Command = "sgnode"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Stream.DefaultBufferSize == "" {
		c.Stream.DefaultBufferSize = "16mb"
	}
	parsed, err := ParseByteSize(c.Stream.DefaultBufferSize)
	if err != nil {
		return fmt.Errorf("stream.default_buffer_size: %w", err)
	}
	c.Stream.DefaultBufferSizeRaw = parsed

	if _, err := rpc.ParseDSCP(c.Stream.DSCPClass); err != nil {
		return fmt.Errorf("stream.dscp_class: %w", err)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			c.RateLimit.RequestsPerSecond = 2000
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = 200
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Interval <= 0 {
			c.Telemetry.Interval = 10 * time.Second
		}
		if c.Telemetry.Interval < time.Second {
			return fmt.Errorf("telemetry.interval must be at least 1s, got %s", c.Telemetry.Interval)
		}
	}

	if c.Snapshot.Enabled {
		if c.Snapshot.Schedule == "" {
			return fmt.Errorf("snapshot.schedule is required when snapshot is enabled")
		}
		if _, err := cron.ParseStandard(c.Snapshot.Schedule); err != nil {
			return fmt.Errorf("snapshot.schedule: %w", err)
		}
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket is required when snapshot is enabled")
		}
		if c.Snapshot.Prefix == "" {
			c.Snapshot.Prefix = "sgcore-snapshots/"
		}
		if !strings.HasSuffix(c.Snapshot.Prefix, "/") {
			c.Snapshot.Prefix += "/"
		}
		if c.Snapshot.CompressionMode == "" {
			c.Snapshot.CompressionMode = "gzip"
		}
		if c.Snapshot.CompressionMode != "gzip" && c.Snapshot.CompressionMode != "none" {
			return fmt.Errorf("snapshot.compression_mode must be gzip or none, got %q", c.Snapshot.CompressionMode)
		}
	}

	return nil
}
