// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

import (
	"testing"
	"time"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

func plainSpec() Spec {
	return Spec{
		Protocol:     ProtoTCP,
		TransferMode: TransferPlainData,
		StreamType:   StreamAnalogSignal,
		DType:        rpcwire.Float64,
		Shape:        []int64{-1, 4},
		TimeAxis:     0,
		SamplingRate: 1000,
		Units:        "V",
	}
}

func sharedSpec() Spec {
	s := plainSpec()
	s.TransferMode = TransferSharedMem
	s.BufferSize = 1024
	return s
}

func TestPlainDataRoundTrip(t *testing.T) {
	out := NewOutputStream()
	if err := out.Configure(plainSpec()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resolved, err := out.Initialize("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer out.Close()

	in, err := Connect(out.Address(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer in.Close()

	if !in.Spec().Equal(resolved) {
		t.Fatalf("handshake spec mismatch: got %+v want %+v", in.Spec(), resolved)
	}

	elemSize := resolved.ElemSize()
	payload := make([]byte, elemSize*10)
	if _, err := out.PushChunk(payload); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}

	chunk, err := in.Poll(2 * time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if chunk.Head != 10 {
		t.Fatalf("expected head 10, got %d", chunk.Head)
	}
	if chunk.Len(elemSize) != 10 {
		t.Fatalf("expected 10 samples, got %d", chunk.Len(elemSize))
	}
}

func TestSharedMemRoundTrip(t *testing.T) {
	out := NewOutputStream()
	if err := out.Configure(sharedSpec()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := out.Initialize("127.0.0.1:0"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer out.Close()

	in, err := Connect(out.Address(), out.Ring())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer in.Close()

	elemSize := in.Spec().ElemSize()
	payload := make([]byte, elemSize*50)
	if _, err := out.PushChunk(payload); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}

	chunk, err := in.Poll(2 * time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if chunk.Head != 50 {
		t.Fatalf("expected head 50, got %d", chunk.Head)
	}
	if len(chunk.Payload) != elemSize*50 {
		t.Fatalf("expected %d bytes, got %d", elemSize*50, len(chunk.Payload))
	}

	lost, events := in.GapStats()
	if lost != 0 || events != 0 {
		t.Fatalf("expected no gaps on first read, got lost=%d events=%d", lost, events)
	}
}

func TestGapTrackerDetectsOverwrite(t *testing.T) {
	g := NewGapTracker(1024)
	if gapped, _ := g.Observe(500); gapped {
		t.Fatalf("first observation should never report a gap")
	}
	g.Advance(500)

	gapped, lost := g.Observe(2000)
	if !gapped {
		t.Fatalf("expected a gap once head - capacity advances past lastRead")
	}
	wantLost := (2000 - 1024) - 500
	if lost != int64(wantLost) {
		t.Fatalf("expected lost=%d, got %d", wantLost, lost)
	}
}

func TestSpecValidateRejectsUnknownEnum(t *testing.T) {
	s := plainSpec()
	s.Protocol = "carrier-pigeon"
	if err := s.Validate(); err == nil {
		t.Fatalf("expected Validate to reject unknown protocol")
	}
}

func TestSpecValidateRequiresBufferSizeForSharedMem(t *testing.T) {
	s := sharedSpec()
	s.BufferSize = 0
	if err := s.Validate(); err == nil {
		t.Fatalf("expected Validate to require buffer_size for sharedmem")
	}
}

func TestPlainDataRoundTrip_RateLimitBpsSurvivesHandshake(t *testing.T) {
	spec := plainSpec()
	spec.RateLimitBps = 4096

	out := NewOutputStream()
	if err := out.Configure(spec); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resolved, err := out.Initialize("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer out.Close()

	if resolved.RateLimitBps != 4096 {
		t.Fatalf("expected resolved RateLimitBps 4096, got %d", resolved.RateLimitBps)
	}

	in, err := Connect(out.Address(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer in.Close()

	if in.Spec().RateLimitBps != 4096 {
		t.Fatalf("expected handshake RateLimitBps 4096, got %d", in.Spec().RateLimitBps)
	}

	elemSize := resolved.ElemSize()
	payload := make([]byte, elemSize*10)
	if _, err := out.PushChunk(payload); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}
	if _, err := in.Poll(2 * time.Second); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestPlainDataRoundTrip_Compressed(t *testing.T) {
	spec := plainSpec()
	spec.Compression = CompressionBloscLZ4

	out := NewOutputStream()
	if err := out.Configure(spec); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := out.Initialize("127.0.0.1:0"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer out.Close()

	in, err := Connect(out.Address(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer in.Close()

	elemSize := in.Spec().ElemSize()
	payload := make([]byte, elemSize*10)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := out.PushChunk(payload); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}

	chunk, err := in.Poll(2 * time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(chunk.Payload) != len(payload) {
		t.Fatalf("expected decompressed payload of %d bytes, got %d", len(payload), len(chunk.Payload))
	}
	for i := range payload {
		if chunk.Payload[i] != payload[i] {
			t.Fatalf("decompressed payload mismatch at byte %d", i)
		}
	}
}

func TestFrozenEqual(t *testing.T) {
	a := plainSpec()
	b := plainSpec()
	if !a.FrozenEqual(b) {
		t.Fatalf("expected identical specs to be frozen-equal")
	}
	b.Shape = []int64{-1, 8}
	if a.FrozenEqual(b) {
		t.Fatalf("expected differing per-sample shape to break frozen-equality")
	}
}
