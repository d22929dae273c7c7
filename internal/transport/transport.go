// Copyright 2026 The sgcore Authors. All rights reserved.

// Package transport resolves the scheme-qualified addresses spec.md §4.2
// describes ("tcp://host:port", "ipc:///path/to.sock", "inproc://name")
// to a concrete net.Listener/net.Conn, so both the RPC server/client and
// the stream endpoints bind/dial tcp, unix-domain, or in-process transport
// from the same address string instead of always opening a TCP socket.
// An address with no "scheme://" prefix defaults to tcp, so existing
// bare "host:port" addresses keep working unchanged.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	SchemeTCP    = "tcp"
	SchemeIPC    = "ipc"
	SchemeInproc = "inproc"
)

// Parse splits a transport URL into its scheme and the remainder, defaulting
// to SchemeTCP when no "scheme://" prefix is present.
func Parse(address string) (scheme, rest string) {
	if idx := strings.Index(address, "://"); idx >= 0 {
		return address[:idx], address[idx+3:]
	}
	return SchemeTCP, address
}

// addr is the net.Addr every Listen/Dial in this package returns, so a
// resolved wildcard bind reports back a scheme-qualified string a caller
// can round-trip through Dial.
type addr struct {
	scheme string
	value  string
}

func (a addr) Network() string { return a.scheme }
func (a addr) String() string  { return a.scheme + "://" + a.value }

// Listen binds a listener for address (see Parse). Use ":0" (or, for ipc,
// an empty path) to let the OS pick, then read the resolved value back from
// the returned listener's Addr().
func Listen(address string) (net.Listener, error) {
	scheme, rest := Parse(address)
	switch scheme {
	case SchemeTCP:
		ln, err := net.Listen("tcp", rest)
		if err != nil {
			return nil, err
		}
		return &schemeListener{Listener: ln, scheme: SchemeTCP}, nil
	case SchemeIPC:
		ln, err := net.Listen("unix", rest)
		if err != nil {
			return nil, err
		}
		return &schemeListener{Listener: ln, scheme: SchemeIPC}, nil
	case SchemeInproc:
		return listenInproc(rest)
	default:
		return nil, fmt.Errorf("transport: unknown scheme %q in address %q", scheme, address)
	}
}

// DialContext connects to address (see Parse), honoring ctx's deadline for
// tcp/ipc. inproc dials are synchronous handshakes against a listener
// registered with Listen in this same process and ignore ctx, since there
// is no network round trip to bound.
func DialContext(ctx context.Context, dialer *net.Dialer, address string) (net.Conn, error) {
	scheme, rest := Parse(address)
	switch scheme {
	case SchemeTCP:
		return dialer.DialContext(ctx, "tcp", rest)
	case SchemeIPC:
		return dialer.DialContext(ctx, "unix", rest)
	case SchemeInproc:
		return dialInproc(rest)
	default:
		return nil, fmt.Errorf("transport: unknown scheme %q in address %q", scheme, address)
	}
}

// Dial connects to address using a default dialer and no deadline beyond
// ctx.Background — a convenience for callers that don't need DialContext's
// cancellation.
func Dial(address string) (net.Conn, error) {
	return DialContext(context.Background(), &net.Dialer{}, address)
}

// schemeListener wraps a net/unix listener so Addr() reports the
// scheme-qualified form instead of a bare network address.
type schemeListener struct {
	net.Listener
	scheme string
}

func (l *schemeListener) Addr() net.Addr {
	return addr{scheme: l.scheme, value: l.Listener.Addr().String()}
}

// inproc transport: an in-process rendezvous point keyed by name, backed by
// net.Pipe so no bytes actually cross a socket. Used for control or stream
// connections a NodeGroup makes to itself or a sibling in the same process
// — spec.md's "inproc://name" scheme.
var (
	inprocMu       sync.Mutex
	inprocByName   = make(map[string]*inprocListener)
	inprocAutoName atomic.Uint64
)

type inprocListener struct {
	name   string
	connCh chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func listenInproc(name string) (net.Listener, error) {
	if name == "" || name == "*" {
		name = fmt.Sprintf("auto-%d", inprocAutoName.Add(1))
	}

	inprocMu.Lock()
	defer inprocMu.Unlock()
	if _, exists := inprocByName[name]; exists {
		return nil, fmt.Errorf("transport: inproc listener %q already bound", name)
	}
	l := &inprocListener{name: name, connCh: make(chan net.Conn), done: make(chan struct{})}
	inprocByName[name] = l
	return l, nil
}

func (l *inprocListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.done:
		return nil, fmt.Errorf("transport: inproc listener %q closed", l.name)
	}
}

func (l *inprocListener) Close() error {
	l.once.Do(func() {
		inprocMu.Lock()
		delete(inprocByName, l.name)
		inprocMu.Unlock()
		close(l.done)
	})
	return nil
}

func (l *inprocListener) Addr() net.Addr {
	return addr{scheme: SchemeInproc, value: l.name}
}

func dialInproc(name string) (net.Conn, error) {
	inprocMu.Lock()
	l, ok := inprocByName[name]
	inprocMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no inproc listener named %q", name)
	}

	client, server := net.Pipe()
	select {
	case l.connCh <- server:
		return client, nil
	case <-l.done:
		server.Close()
		client.Close()
		return nil, fmt.Errorf("transport: inproc listener %q closed", name)
	}
}
