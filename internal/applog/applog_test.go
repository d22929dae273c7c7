// Copyright 2026 The sgcore Authors. All rights reserved.

package applog

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewReturnsNoopCloserWithoutFile(t *testing.T) {
	logger, closer := New("info", "json", "")
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("expected no-op closer to succeed, got %v", err)
	}
}
