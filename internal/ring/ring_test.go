// Copyright 2026 The sgcore Authors. All rights reserved.

package ring

import (
	"bytes"
	"testing"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

func TestNewBufferRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewBuffer(1000, 4); err != ErrNotPowerOfTwo {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
	if _, err := NewBuffer(1024, 4); err != nil {
		t.Fatalf("unexpected error for power-of-two capacity: %v", err)
	}
}

func TestNewChunkRequiresConsistentHeadAfter(t *testing.T) {
	b, _ := NewBuffer(8, 1)
	chunk := []byte{1, 2, 3}
	if err := b.NewChunk(chunk, 3); err != nil {
		t.Fatalf("first chunk should succeed: %v", err)
	}
	if err := b.NewChunk(chunk, 10); err != ErrBadHeadAfter {
		t.Fatalf("expected ErrBadHeadAfter, got %v", err)
	}
	if err := b.NewChunk(chunk, 6); err != nil {
		t.Fatalf("contiguous chunk should succeed: %v", err)
	}
}

// TestRingCapacityWindow implements spec.md invariant 5 and scenario S6:
// after N chunks totalling S samples, positions [S-capacity, S) read back
// exactly, and positions before that fail.
func TestRingCapacityWindow(t *testing.T) {
	b, err := NewBuffer(1024, 1)
	if err != nil {
		t.Fatal(err)
	}

	total := int64(0)
	for i := 0; i < 10; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 300)
		total += int64(len(chunk))
		if err := b.NewChunk(chunk, total); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	if total != 3000 {
		t.Fatalf("expected 3000 total samples, got %d", total)
	}
	if b.Head() != 3000 {
		t.Fatalf("expected head 3000, got %d", b.Head())
	}

	// [1976, 2076) starts exactly at S-capacity (3000-1024) — must succeed.
	if _, err := b.Get(1976, 2076); err != nil {
		t.Fatalf("expected in-window read to succeed: %v", err)
	}

	// [500, 600) is long overwritten — must fail.
	if _, err := b.Get(500, 600); err != ErrOutOfWindow {
		t.Fatalf("expected ErrOutOfWindow, got %v", err)
	}

	// Reading past head must fail.
	if _, err := b.Get(2990, 3010); err != ErrOutOfWindow {
		t.Fatalf("expected ErrOutOfWindow for read past head, got %v", err)
	}
}

func TestGetReturnsExactBytesAcrossWrap(t *testing.T) {
	b, _ := NewBuffer(8, 1)
	if err := b.NewChunk([]byte{1, 2, 3, 4, 5, 6}, 6); err != nil {
		t.Fatal(err)
	}
	if err := b.NewChunk([]byte{7, 8, 9, 10}, 10); err != nil { // wraps past capacity 8
		t.Fatal(err)
	}
	got, err := b.Get(2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{3, 4, 5, 6, 7, 8, 9, 10}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestContains(t *testing.T) {
	b, _ := NewBuffer(4, 1)
	b.NewChunk([]byte{1, 2, 3, 4, 5, 6}, 6)
	if b.Contains(1) {
		t.Fatal("position 1 should have fallen out of the window")
	}
	if !b.Contains(5) {
		t.Fatal("position 5 should be in the window")
	}
	if b.Contains(6) {
		t.Fatal("position 6 (== head) has not been written yet")
	}
}

func TestNewBufferForArray(t *testing.T) {
	b, err := NewBufferForArray(1024, rpcwire.Float32, []int64{16})
	if err != nil {
		t.Fatal(err)
	}
	if b.elemSize != 4*16 {
		t.Fatalf("expected elemSize 64, got %d", b.elemSize)
	}
}
