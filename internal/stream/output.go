// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sig-graph/sgcore/internal/ring"
	"github.com/sig-graph/sgcore/internal/transport"
	"golang.org/x/time/rate"
)

// outgoingQueueDepth bounds how many not-yet-sent frames are buffered per
// consumer connection (plaindata or sharedmem) before the producer starts dropping the oldest one —
// spec.md §4.4's drop-oldest backpressure policy, grounded on the teacher's
// bounded accumulate-then-emit buffer in internal/agent/dispatcher.go.
const outgoingQueueDepth = 64

// OutputStream is the producer side of a stream endpoint (spec.md §4.4).
// Once Initialize is called it is bound to a transport listener (plaindata)
// or owns a shared ring (sharedmem), and exposes its resolved Spec.
type OutputStream struct {
	mu        sync.Mutex
	spec      Spec
	resolved  bool
	address   string
	listener  net.Listener
	ringBuf   *ring.Buffer
	consumers map[uint64]*plainConsumer
	nextID    uint64
	head      atomic.Uint64
	closed    atomic.Bool

	// limiter, when non-nil, is shared by every consumer's sendLoop so
	// spec.RateLimitBps bounds this stream's total egress rather than
	// granting each fan-out subscriber its own independent budget.
	limiter *rate.Limiter
}

type plainConsumer struct {
	id     uint64
	conn   net.Conn
	outCh  chan ControlFrame
	stopCh chan struct{}
}

// NewOutputStream creates an unconfigured OutputStream; call Configure then
// Initialize before pushing chunks.
func NewOutputStream() *OutputStream {
	return &OutputStream{consumers: make(map[uint64]*plainConsumer)}
}

// Configure merges partial spec fields, as allowed any number of times
// before Initialize (spec.md §4.5 "Output-port specs may be partially
// specified after configure and fully resolved in _initialize").
func (o *OutputStream) Configure(spec Spec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resolved {
		return fmt.Errorf("stream: cannot configure an already-initialized output")
	}
	o.spec = spec
	return nil
}

// Initialize validates the merged spec, binds the transport (plaindata) or
// allocates the shared ring (sharedmem), and freezes dtype/shape. address
// may use a wildcard port ("tcp://127.0.0.1:0") which is resolved here.
func (o *OutputStream) Initialize(address string) (Spec, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.spec.Validate(); err != nil {
		return Spec{}, err
	}
	if o.spec.TransferMode == TransferPlainData {
		o.limiter = newStreamLimiter(o.spec.RateLimitBps)
	}

	switch o.spec.TransferMode {
	case TransferPlainData:
		ln, err := transport.Listen(o.schemeQualify(address))
		if err != nil {
			return Spec{}, fmt.Errorf("stream: binding output listener: %w", err)
		}
		o.listener = ln
		o.address = ln.Addr().String()
		go o.acceptLoop()
	case TransferSharedMem:
		rb, err := ring.NewBufferForArray(o.spec.BufferSize, o.spec.DType, o.spec.PerSampleShape())
		if err != nil {
			return Spec{}, fmt.Errorf("stream: allocating shared ring: %w", err)
		}
		o.ringBuf = rb
		ln, err := transport.Listen(o.schemeQualify(address))
		if err != nil {
			return Spec{}, fmt.Errorf("stream: binding sharedmem control listener: %w", err)
		}
		o.listener = ln
		o.address = ln.Addr().String()
		go o.acceptLoop()
	default:
		return Spec{}, fmt.Errorf("stream: unsupported transfermode %q", o.spec.TransferMode)
	}

	o.resolved = true
	return o.spec, nil
}

// schemeQualify prefixes address with the configured transport's scheme
// (spec.md §4.4's Protocol field) unless the caller already passed a
// scheme-qualified address (e.g. one round-tripped from another stream's
// Address()), so an "ipc:///tmp/x.sock" or "inproc://worker" spec actually
// binds a unix socket or in-process listener instead of always a TCP one.
func (o *OutputStream) schemeQualify(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return string(o.spec.Protocol) + "://" + address
}

// Address returns the bound transport address, resolved after Initialize.
func (o *OutputStream) Address() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.address
}

// Ring returns the shared ring buffer for sharedmem transfer. Within a
// single process this is the same *ring.Buffer the InputStream reads from
// directly; across OS processes a deployment would back this with a memory-
// mapped file keyed by Address() instead of an in-process pointer — sgcore
// does not implement that OS-specific mapping since no library in the
// example pack provides a portable mmap/shm abstraction (see DESIGN.md).
func (o *OutputStream) Ring() *ring.Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ringBuf
}

// acceptLoop accepts new consumer connections and performs the stream
// handshake: write the resolved spec, then (plaindata) start a send worker.
func (o *OutputStream) acceptLoop() {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return // listener closed
		}
		o.mu.Lock()
		if o.closed.Load() {
			o.mu.Unlock()
			conn.Close()
			return
		}
		id := o.nextID
		o.nextID++
		c := &plainConsumer{id: id, conn: conn, outCh: make(chan ControlFrame, outgoingQueueDepth), stopCh: make(chan struct{})}
		o.consumers[id] = c
		mode := o.spec.TransferMode
		limiter := o.limiter
		o.mu.Unlock()

		if err := writeHandshake(conn, o.spec); err != nil {
			o.removeConsumer(id)
			conn.Close()
			continue
		}

		go o.sendLoop(c, mode, limiter)
	}
}

func (o *OutputStream) sendLoop(c *plainConsumer, mode TransferMode, limiter *rate.Limiter) {
	var w io.Writer = c.conn
	if limiter != nil {
		w = newThrottledWriter(context.Background(), w, limiter)
	}
	bw := bufio.NewWriter(w)
	for {
		select {
		case <-c.stopCh:
			return
		case f := <-c.outCh:
			var err error
			if mode == TransferPlainData {
				err = WriteControlFrame(bw, f)
			} else {
				err = WriteHeadFrame(bw, f)
			}
			if err == nil {
				err = bw.Flush()
			}
			if err != nil {
				o.removeConsumer(c.id)
				return
			}
		}
	}
}

func (o *OutputStream) removeConsumer(id uint64) {
	o.mu.Lock()
	c, ok := o.consumers[id]
	if ok {
		delete(o.consumers, id)
	}
	o.mu.Unlock()
	if ok {
		close(c.stopCh)
		c.conn.Close()
	}
}

// PushChunk advances the stream's head by the number of samples in payload
// and delivers the chunk to every connected consumer. For sharedmem the
// samples are written into the shared ring first and only the head is sent
// on the control channel; for plaindata the payload itself is framed and
// sent. The producer never blocks on a slow consumer: if a consumer's
// outgoing queue is full, the oldest queued frame is dropped to make room
// (spec.md §4.4).
func (o *OutputStream) PushChunk(payload []byte) (headAfter uint64, err error) {
	o.mu.Lock()
	spec := o.spec
	rb := o.ringBuf
	o.mu.Unlock()

	n := uint64(len(payload) / spec.ElemSize())
	headAfter = o.head.Add(n)

	frame := ControlFrame{Head: headAfter, Length: uint32(n)}
	if spec.TransferMode == TransferSharedMem {
		if rb == nil {
			return headAfter, fmt.Errorf("stream: sharedmem output has no ring")
		}
		if err := rb.NewChunk(payload, int64(headAfter)); err != nil {
			return headAfter, fmt.Errorf("stream: writing to shared ring: %w", err)
		}
	} else {
		compressed, err := compressPayload(spec.Compression, payload)
		if err != nil {
			return headAfter, err
		}
		frame.Payload = compressed
	}

	o.mu.Lock()
	targets := make([]*plainConsumer, 0, len(o.consumers))
	for _, c := range o.consumers {
		targets = append(targets, c)
	}
	o.mu.Unlock()

	for _, c := range targets {
		enqueueDropOldest(c.outCh, frame)
	}
	return headAfter, nil
}

// enqueueDropOldest pushes f onto ch, discarding the oldest queued frame
// first if ch is full, so the producer never blocks.
func enqueueDropOldest(ch chan ControlFrame, f ControlFrame) {
	select {
	case ch <- f:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}

// Close stops accepting new consumers, disconnects existing ones, and
// releases the listener/ring.
func (o *OutputStream) Close() error {
	o.closed.Store(true)
	o.mu.Lock()
	ln := o.listener
	consumers := o.consumers
	o.consumers = make(map[uint64]*plainConsumer)
	o.mu.Unlock()

	for _, c := range consumers {
		close(c.stopCh)
		c.conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
