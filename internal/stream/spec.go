// Copyright 2026 The sgcore Authors. All rights reserved.

// Package stream implements the stream endpoint (spec.md §4.4): the
// OutputStream/InputStream pair, their handshake, the plaindata and
// sharedmem transfer modes, and monotonic-head framing.
package stream

import (
	"errors"
	"fmt"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// Protocol is the transport scheme a stream's control channel binds to.
type Protocol string

const (
	ProtoTCP    Protocol = "tcp"
	ProtoIPC    Protocol = "ipc"
	ProtoInproc Protocol = "inproc"
)

// TransferMode selects how sample chunks cross from producer to consumer.
type TransferMode string

const (
	TransferPlainData TransferMode = "plaindata"
	TransferSharedMem TransferMode = "sharedmem"
)

// StreamType is the semantic content of the samples, used by consumers to
// pick a rendering/recording strategy; sgcore never interprets it itself.
type StreamType string

const (
	StreamAnalogSignal StreamType = "analogsignal"
	StreamImage        StreamType = "image"
	StreamEvent        StreamType = "event"
)

// Compression identifies the wire compression applied to plaindata chunk
// payloads. "blosc-lz4" is implemented with klauspost/compress's zstd codec
// (see DESIGN.md — the real blosc C library is not a pure-Go dependency);
// the wire-visible name is kept as spec.md names it.
type Compression string

const (
	CompressionNone     Compression = "none"
	CompressionBloscLZ4 Compression = "blosc-lz4"
)

// ErrFrozenField is returned by Spec.Merge when a caller attempts to change
// dtype or per-sample shape after the stream has been initialized
// (spec.md §3: "dtype and per-sample shape ... are immutable post-initialize").
var ErrFrozenField = errors.New("stream: dtype and per-sample shape are immutable after initialize")

// Spec is the stream configuration exchanged during OutputStream/InputStream
// handshake (spec.md §3 "Stream spec"). TimeAxis is 0 or len(Shape)-1.
type Spec struct {
	Protocol     Protocol
	TransferMode TransferMode
	StreamType   StreamType
	DType        rpcwire.DType
	Shape        []int64 // one dim (TimeAxis) is unknown (-1) until resolved
	TimeAxis     int
	SamplingRate float64
	BufferSize   int64 // ring capacity in samples, power of two preferred
	Compression  Compression
	Scale        float64
	Offset       float64
	Units        string

	// RateLimitBps, when non-zero, caps the plaindata sendLoop's total
	// write rate in bytes/second across every consumer of this output
	// port — not per connection, so a popular port's fan-out shares one
	// budget instead of each subscriber multiplying the configured cap.
	// A producer emitting at a fixed SamplingRate still benefits from
	// this when a slow downstream link would otherwise force
	// PushChunk's drop-oldest path (outgoingQueueDepth) to engage
	// constantly. Ignored for sharedmem transfer.
	RateLimitBps int64
}

// PerSampleShape returns Shape with the time axis removed — the dimensions
// that must stay fixed once the stream is initialized.
func (s Spec) PerSampleShape() []int64 {
	out := make([]int64, 0, len(s.Shape))
	for i, d := range s.Shape {
		if i == s.TimeAxis {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ElemSize returns the per-sample element size in bytes (dtype size times
// the product of the per-sample shape).
func (s Spec) ElemSize() int {
	n := 1
	for _, d := range s.PerSampleShape() {
		n *= int(d)
	}
	return n * s.DType.Size()
}

// Validate checks the invariants spec.md §3 places on a stream spec.
func (s Spec) Validate() error {
	switch s.Protocol {
	case ProtoTCP, ProtoIPC, ProtoInproc:
	default:
		return fmt.Errorf("stream: unknown protocol %q", s.Protocol)
	}
	switch s.TransferMode {
	case TransferPlainData, TransferSharedMem:
	default:
		return fmt.Errorf("stream: unknown transfermode %q", s.TransferMode)
	}
	switch s.StreamType {
	case StreamAnalogSignal, StreamImage, StreamEvent:
	default:
		return fmt.Errorf("stream: unknown streamtype %q", s.StreamType)
	}
	if s.SamplingRate <= 0 {
		return fmt.Errorf("stream: sampling_rate must be positive, got %v", s.SamplingRate)
	}
	if s.TimeAxis != 0 && s.TimeAxis != len(s.Shape)-1 {
		return fmt.Errorf("stream: time_axis must be 0 or the last dimension, got %d", s.TimeAxis)
	}
	if s.TransferMode == TransferSharedMem && s.BufferSize <= 0 {
		return fmt.Errorf("stream: sharedmem transfer requires a positive buffer_size")
	}
	return nil
}

// Equal reports whether two specs are identical in every field a consumer
// can observe after handshake (spec.md §3's "consumer-visible spec equals
// producer-visible spec after handshake" invariant).
func (s Spec) Equal(o Spec) bool {
	if s.Protocol != o.Protocol || s.TransferMode != o.TransferMode ||
		s.StreamType != o.StreamType || s.DType != o.DType ||
		s.TimeAxis != o.TimeAxis || s.SamplingRate != o.SamplingRate ||
		s.BufferSize != o.BufferSize || s.Compression != o.Compression ||
		s.Scale != o.Scale || s.Offset != o.Offset || s.Units != o.Units ||
		s.RateLimitBps != o.RateLimitBps ||
		len(s.Shape) != len(o.Shape) {
		return false
	}
	for i := range s.Shape {
		if s.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// FrozenEqual reports whether the immutable-post-initialize fields (dtype,
// per-sample shape) of two specs match. Used to reject a late Merge that
// would otherwise silently change them.
func (s Spec) FrozenEqual(o Spec) bool {
	if s.DType != o.DType {
		return false
	}
	a, b := s.PerSampleShape(), o.PerSampleShape()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
