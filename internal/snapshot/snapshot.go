// Copyright 2026 The sgcore Authors. All rights reserved.

// Package snapshot implements the Manager's optional diagnostic export
// sink: a cron-scheduled dump of nodegroup/telemetry state to object
// storage for later inspection. It is a diagnostics export only — it is
// never read back to restore topology on restart; a Manager that loses
// its in-memory NodeGroup table starts empty regardless of what has been
// exported here.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"
	"github.com/robfig/cron/v3"

	"github.com/sig-graph/sgcore/internal/config"
)

// Source supplies the bytes exported on each scheduled tick. A Manager
// implements this by JSON-marshalling its nodegroup names and per-host
// telemetry samples;
// snapshot deliberately takes no direct dependency on the manager package
// to avoid a wiring-order cycle.
type Source interface {
	DiagnosticSnapshot(ctx context.Context) ([]byte, error)
}

// Exporter uploads periodic diagnostic snapshots to an S3-compatible
// bucket on a cron schedule. Grounded on internal/server/storage.go's
// AtomicWriter: there, a backup is written to a temp file and only made
// visible by a final rename; here, S3's PutObject is itself atomic from
// the reader's perspective, so the write-then-make-visible step collapses
// into one call, but the "build the whole payload before anything becomes
// visible" discipline is the same.
type Exporter struct {
	cfg      config.SnapshotConfig
	s3Client *s3.Client
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewExporter resolves AWS credentials/region via the default SDK chain
// and prepares an Exporter. It does not start the schedule; call Start.
func NewExporter(ctx context.Context, cfg config.SnapshotConfig, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading aws config: %w", err)
	}

	return &Exporter{
		cfg:      cfg,
		s3Client: s3.NewFromConfig(awsCfg),
		logger:   logger.With("component", "snapshot"),
	}, nil
}

// Start schedules periodic exports against cfg.Schedule, pulling the
// payload from source on every tick.
func (e *Exporter) Start(ctx context.Context, source Source) error {
	c := cron.New()
	_, err := c.AddFunc(e.cfg.Schedule, func() {
		if err := e.exportOnce(ctx, source); err != nil {
			e.logger.Error("snapshot export failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("snapshot: scheduling export: %w", err)
	}
	e.cron = c
	c.Start()
	e.logger.Info("snapshot exporter started", "schedule", e.cfg.Schedule, "bucket", e.cfg.Bucket)
	return nil
}

// Stop halts the schedule, waiting for any in-flight export to finish.
func (e *Exporter) Stop() {
	if e.cron == nil {
		return
	}
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.logger.Info("snapshot exporter stopped")
}

// ExportNow runs one export immediately, outside the cron schedule —
// useful for an operator-triggered diagnostic dump.
func (e *Exporter) ExportNow(ctx context.Context, source Source) error {
	return e.exportOnce(ctx, source)
}

func (e *Exporter) exportOnce(ctx context.Context, source Source) error {
	payload, err := source.DiagnosticSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: collecting payload: %w", err)
	}

	key, body, err := e.encode(payload)
	if err != nil {
		return err
	}

	_, err = e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &e.cfg.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("snapshot: uploading %s: %w", key, err)
	}

	e.logger.Info("snapshot exported", "key", key, "bytes", len(body))
	return nil
}

func (e *Exporter) encode(payload []byte) (key string, body []byte, err error) {
	stamp := timeStamp()

	if e.cfg.CompressionMode == "none" {
		return e.cfg.Prefix + stamp + ".json", payload, nil
	}

	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return "", nil, fmt.Errorf("snapshot: compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("snapshot: closing gzip writer: %w", err)
	}
	return e.cfg.Prefix + stamp + ".json.gz", buf.Bytes(), nil
}

// timeStamp is split out so tests can't trip over clock formatting
// differences across platforms; it always yields a key-safe string.
func timeStamp() string {
	return time.Now().UTC().Format("20060102T150405.000Z")
}
