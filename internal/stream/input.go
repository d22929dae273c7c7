// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sig-graph/sgcore/internal/ring"
	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/transport"
)

// InputStream is the consumer side of a stream endpoint (spec.md §4.4). It
// dials an OutputStream's bound address, performs the spec handshake, and
// then exposes chunks through Poll. A full deployment reaches this address
// by first resolving it through an RPC call_obj("connect") on the output
// port's proxy; InputStream itself only owns the resulting data-plane
// connection, mirroring the teacher's split between control_channel.go
// (handshake) and the per-connection stream reader.
type InputStream struct {
	conn    net.Conn
	r       *bufio.Reader
	spec    Spec
	ringBuf *ring.Buffer
	gaps    *GapTracker
}

// Connect dials address, reads the handshake-resolved Spec, and — for
// sharedmem transfer — attaches to the shared ring so Poll can fetch sample
// data locally instead of over the wire.
func Connect(address string, localRing *ring.Buffer) (*InputStream, error) {
	conn, err := transport.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("stream: dialing output %q: %w", address, err)
	}
	r := bufio.NewReader(conn)
	spec, err := readHandshake(r)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: reading handshake from %q: %w", address, err)
	}

	in := &InputStream{conn: conn, r: r, spec: spec}
	if spec.TransferMode == TransferSharedMem {
		if localRing == nil {
			conn.Close()
			return nil, fmt.Errorf("stream: sharedmem connect requires an attached ring")
		}
		in.ringBuf = localRing
		in.gaps = NewGapTracker(localRing.Capacity())
	}
	return in, nil
}

// Spec returns the handshake-resolved stream spec.
func (in *InputStream) Spec() Spec {
	return in.spec
}

// Poll blocks up to timeout for the next chunk. For plaindata it returns the
// framed payload directly; for sharedmem it uses the delivered head to fetch
// the corresponding window from the shared ring, reporting gapped/lost
// counts via GapStats when loss is detected.
func (in *InputStream) Poll(timeout time.Duration) (Chunk, error) {
	if timeout > 0 {
		in.conn.SetReadDeadline(time.Now().Add(timeout))
		defer in.conn.SetReadDeadline(time.Time{})
	}

	f, err := ReadControlFrame(in.r)
	if err != nil {
		return Chunk{}, err
	}

	if in.spec.TransferMode == TransferPlainData {
		payload, err := decompressPayload(in.spec.Compression, f.Payload)
		if err != nil {
			return Chunk{}, err
		}
		return Chunk{Head: f.Head, Payload: payload}, nil
	}

	// sharedmem: fetch [head-length, head) from the ring.
	stop := int64(f.Head)
	start := stop - int64(f.Length)
	if in.gaps != nil {
		in.gaps.Observe(stop)
	}
	payload, err := in.ringBuf.Get(start, stop)
	if err != nil {
		return Chunk{}, fmt.Errorf("stream: fetching ring window [%d,%d): %w", start, stop, err)
	}
	if in.gaps != nil {
		in.gaps.Advance(stop)
	}
	return Chunk{Head: f.Head, Payload: payload}, nil
}

// GapStats returns cumulative sample loss for a sharedmem InputStream, or
// (0, 0) for plaindata streams which never lose samples (they are
// delivered, or dropped whole, over a reliable byte stream).
func (in *InputStream) GapStats() (totalLost, gapEvents int64) {
	if in.gaps == nil {
		return 0, 0
	}
	return in.gaps.Stats()
}

// Close releases the underlying connection.
func (in *InputStream) Close() error {
	return in.conn.Close()
}

// writeHandshake and readHandshake exchange a Spec as the first message on a
// freshly accepted/dialed stream connection, encoded as an rpcwire.Map for
// the same reason every other sgcore wire message is: a single codec for
// every control-plane value, rather than a bespoke struct encoding here.
func writeHandshake(w io.Writer, spec Spec) error {
	if err := rpcwire.Encode(w, specToValue(spec)); err != nil {
		return fmt.Errorf("stream: encoding handshake: %w", err)
	}
	return nil
}

func readHandshake(r io.Reader) (Spec, error) {
	v, err := rpcwire.Decode(r)
	if err != nil {
		return Spec{}, fmt.Errorf("stream: decoding handshake: %w", err)
	}
	return valueToSpec(v)
}

func specToValue(s Spec) rpcwire.Value {
	shape := make([]rpcwire.Value, len(s.Shape))
	for i, d := range s.Shape {
		shape[i] = rpcwire.Int(d)
	}
	return rpcwire.Map(map[string]rpcwire.Value{
		"protocol":     rpcwire.String(string(s.Protocol)),
		"transfermode": rpcwire.String(string(s.TransferMode)),
		"streamtype":   rpcwire.String(string(s.StreamType)),
		"dtype":        rpcwire.String(s.DType.String()),
		"shape":        rpcwire.Slice(shape),
		"time_axis":    rpcwire.Int(int64(s.TimeAxis)),
		"sampling_rate": rpcwire.Float(s.SamplingRate),
		"buffer_size":   rpcwire.Int(s.BufferSize),
		"compression":   rpcwire.String(string(s.Compression)),
		"scale":         rpcwire.Float(s.Scale),
		"offset":        rpcwire.Float(s.Offset),
		"units":         rpcwire.String(s.Units),
		"rate_limit_bps": rpcwire.Int(s.RateLimitBps),
	})
}

func valueToSpec(v rpcwire.Value) (Spec, error) {
	if v.Kind != rpcwire.KindMap {
		return Spec{}, fmt.Errorf("stream: handshake value is not a map")
	}
	m := v.Map

	dt, err := rpcwire.ParseDType(m["dtype"].Str)
	if err != nil {
		return Spec{}, err
	}
	shapeVals := m["shape"].Slice
	shape := make([]int64, len(shapeVals))
	for i, sv := range shapeVals {
		shape[i] = sv.Int
	}

	return Spec{
		Protocol:     Protocol(m["protocol"].Str),
		TransferMode: TransferMode(m["transfermode"].Str),
		StreamType:   StreamType(m["streamtype"].Str),
		DType:        dt,
		Shape:        shape,
		TimeAxis:     int(m["time_axis"].Int),
		SamplingRate: m["sampling_rate"].Float,
		BufferSize:   m["buffer_size"].Int,
		Compression:  Compression(m["compression"].Str),
		Scale:        m["scale"].Float,
		Offset:       m["offset"].Float,
		Units:        m["units"].Str,
		RateLimitBps: m["rate_limit_bps"].Int,
	}, nil
}
