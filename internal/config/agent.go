// Copyright 2026 The sgcore Authors. All rights reserved.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sig-graph/sgcore/internal/rpc"
)

// NodeConfig is the configuration of one sgnode worker process: the
// per-Host settings a spawned worker reads from its own YAML file before
// calling host.Serve. Grounded on the teacher's AgentConfig — a worker
// process here plays the same "remote collaborator dialed back by a
// central authority" role the backup agent played.
type NodeConfig struct {
	Node      NodeInfo        `yaml:"node"`
	Listen    ListenInfo      `yaml:"listen"`
	Manager   ManagerAddr     `yaml:"manager"`
	TLS       TLSClient       `yaml:"tls"`
	Stream    StreamConfig    `yaml:"stream"`
	Retry     RetryInfo       `yaml:"retry"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingInfo     `yaml:"logging"`
}

// NodeInfo identifies the worker process.
type NodeInfo struct {
	Name string `yaml:"name"`
}

// ListenInfo is the address a worker's rpc.Server binds.
type ListenInfo struct {
	Address string `yaml:"address"` // e.g. "127.0.0.1:0"
}

// ManagerAddr is the address of the Manager that spawned this worker, used
// only for logging/telemetry callbacks — NodeGroup/Node creation itself
// flows the other way, from Manager to worker, over the connection the
// spawn handshake already established.
type ManagerAddr struct {
	Address string `yaml:"address"`
}

// TLSClient holds the mTLS certificate paths a worker uses when dialing
// back out to the Manager for telemetry or snapshot export.
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// StreamConfig sets the defaults new OutputStreams are configured with
// when a Node doesn't specify its own buffer size.
type StreamConfig struct {
	DefaultBufferSize    string `yaml:"default_buffer_size"` // e.g. "64mb" (default: 16mb)
	DefaultBufferSizeRaw int64  `yaml:"-"`

	// DSCPClass names a DSCP code point (e.g. "AF41", "EF") applied to
	// every rpc connection carrying this process's stream traffic — see
	// rpc.ParseDSCP. Empty disables marking.
	DSCPClass string `yaml:"dscp_class"`
}

// RetryInfo holds reconnect backoff settings, validated and defaulted with
// the rest of the agent config. rpc.Client does not read them: its
// ensureConnection uses built-in values (250ms doubling to a 10s cap,
// retrying until its context is done).
type RetryInfo struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoggingInfo configures the process's applog.New call.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadNodeConfig reads and validates a worker's YAML configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node config: %w", err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing node config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating node config: %w", err)
	}

	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1:0"
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 250 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 10 * time.Second
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
	if parsed < 64*1024 {
		return fmt.Errorf("stream.default_buffer_size must be at least 64kb, got %s", c.Stream.DefaultBufferSize)
	}
	c.Stream.DefaultBufferSizeRaw = parsed

	if _, err := rpc.ParseDSCP(c.Stream.DSCPClass); err != nil {
		return fmt.Errorf("stream.dscp_class: %w", err)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Interval <= 0 {
			c.Telemetry.Interval = 10 * time.Second
		}
		if c.Telemetry.Interval < time.Second {
			return fmt.Errorf("telemetry.interval must be at least 1s, got %s", c.Telemetry.Interval)
		}
	}

	return nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" to a
// byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Longest suffix first so "mb" never matches as "b".
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
