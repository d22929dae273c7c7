// Copyright 2026 The sgcore Authors. All rights reserved.

package snapshot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/sig-graph/sgcore/internal/config"
)

func TestEncodeGzip(t *testing.T) {
	e := &Exporter{cfg: config.SnapshotConfig{Prefix: "p/", CompressionMode: "gzip"}}
	key, body, err := e.encode([]byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(key, "p/") || !strings.HasSuffix(key, ".json.gz") {
		t.Errorf("unexpected key %q", key)
	}

	zr, err := pgzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("pgzip.NewReader: %v", err)
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		t.Fatalf("reading decompressed body: %v", err)
	}
	if out.String() != `{"ok":true}` {
		t.Errorf("unexpected decompressed payload %q", out.String())
	}
}

func TestEncodeNone(t *testing.T) {
	e := &Exporter{cfg: config.SnapshotConfig{Prefix: "p/", CompressionMode: "none"}}
	key, body, err := e.encode([]byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasSuffix(key, ".json") || strings.HasSuffix(key, ".json.gz") {
		t.Errorf("unexpected key %q", key)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected uncompressed payload %q", string(body))
	}
}
