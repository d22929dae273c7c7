// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/transport"
)

// Default backoff bounds for ensureConnection, mirroring the teacher's
// control channel reconnect defaults (internal/config/agent.go's
// ReconnectDelay/MaxReconnectDelay) rather than inventing new constants.
const (
	defaultReconnectDelay    = 250 * time.Millisecond
	defaultMaxReconnectDelay = 10 * time.Second
)

// Client is one logical connection to a remote Server address. A process
// keeps one Client per (goroutine-thread, address) pair in the full
// spec.md design; sgcore's Client is safe for concurrent use directly so
// callers may share a single instance per address instead.
type Client struct {
	address string
	logger  *slog.Logger

	// TLSConfig, when non-nil, makes ensureConnection dial with mutual
	// TLS instead of plaintext — see internal/pki for building one from
	// config.TLSClient paths. Set it before the first call that dials.
	TLSConfig *tls.Config

	// DSCP, when non-zero, is the DSCP code point (see ParseDSCP) applied
	// to the dialed TCP connection so stream traffic gets prioritized
	// over best-effort control traffic along the path.
	DSCP int

	connMu sync.Mutex
	conn   net.Conn
	w      *bufio.Writer

	pendingMu sync.Mutex
	pending   map[uint64]chan Response

	nextReqID atomic.Uint64
	closed    atomic.Bool
}

// NewClient creates a Client targeting address. The connection is
// established lazily on the first call.
func NewClient(address string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		address: address,
		logger:  logger.With("component", "rpc.client", "address", address),
		pending: make(map[uint64]chan Response),
	}
}

// ensureConnection dials address with exponential backoff, grounded on the
// teacher's ControlChannel.run()/connect() loop (internal/agent/
// control_channel.go), stopping early if ctx is done. On success it starts
// the response-reading goroutine.
func (c *Client) ensureConnection(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	delay := defaultReconnectDelay
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	scheme, rest := transport.Parse(c.address)
	for {
		var conn net.Conn
		var err error
		switch {
		case c.TLSConfig != nil && scheme == transport.SchemeTCP:
			conn, err = tls.DialWithDialer(dialer, "tcp", rest, c.TLSConfig)
		case c.TLSConfig != nil && scheme == transport.SchemeIPC:
			conn, err = tls.DialWithDialer(dialer, "unix", rest, c.TLSConfig)
		default:
			// inproc never dials over TLS: it is a same-process
			// rendezvous, not a socket a third party could intercept.
			conn, err = transport.DialContext(ctx, dialer, c.address)
		}
		if err == nil {
			if dscpErr := applyDSCP(conn, c.DSCP); dscpErr != nil {
				c.logger.Warn("rpc client dscp marking failed", "error", dscpErr)
			}
			c.connMu.Lock()
			c.conn = conn
			c.w = bufio.NewWriter(conn)
			c.connMu.Unlock()
			go c.readLoop(conn)
			return nil
		}

		c.logger.Debug("rpc client connect failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("rpc: connecting to %q: %w", c.address, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > defaultMaxReconnectDelay {
			delay = defaultMaxReconnectDelay
		}
	}
}

func (c *Client) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		resp, err := decodeResponse(r)
		if err != nil {
			c.logger.Debug("rpc client read failed, dropping connection", "error", err)
			c.dropConn(conn)
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ReqID]
		if ok {
			delete(c.pending, resp.ReqID)
		}
		c.pendingMu.Unlock()

		if !ok {
			// Unknown/stale req_id — the caller gave up waiting already
			// (spec.md invariant 6: responses to unrecognized ids are
			// dropped, never misrouted to a newer call reusing the id).
			continue
		}
		ch <- resp
		close(ch)
	}
}

func (c *Client) dropConn(conn net.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.w = nil
	}
	c.connMu.Unlock()
	conn.Close()

	c.pendingMu.Lock()
	stale := c.pending
	c.pending = make(map[uint64]chan Response)
	c.pendingMu.Unlock()
	for _, ch := range stale {
		close(ch)
	}
}

func (c *Client) send(ctx context.Context, req Request) error {
	if err := c.ensureConnection(ctx); err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.w == nil {
		return fmt.Errorf("rpc: no connection to %q", c.address)
	}
	if err := encodeRequest(c.w, req); err != nil {
		return fmt.Errorf("rpc: encoding request: %w", err)
	}
	return c.w.Flush()
}

// request builds a Request with the next id (or 0 for CallOff) and, unless
// mode is CallOff, registers its pending response channel.
func (c *Client) request(action Action, objID uint64, attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want ReturnPolicy, mode CallMode) (Request, chan Response) {
	if mode == CallOff {
		return Request{Action: action, ObjID: objID, Attrs: attrs, Args: args, Kwargs: kwargs, Return: ReturnNone}, nil
	}

	id := c.nextReqID.Add(1)
	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	return Request{ReqID: id, Action: action, ObjID: objID, Attrs: attrs, Args: args, Kwargs: kwargs, Return: want}, ch
}

// CallSync invokes call_obj and blocks for the response.
func (c *Client) CallSync(ctx context.Context, objID uint64, attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want ReturnPolicy) (rpcwire.Value, error) {
	req, ch := c.request(ActionCallAttr, objID, attrs, args, kwargs, want, CallSync)
	if err := c.send(ctx, req); err != nil {
		return rpcwire.Value{}, err
	}
	f := &Future{ch: ch}
	return f.Wait(ctx)
}

// CallAsync invokes call_obj and returns a Future without blocking.
func (c *Client) CallAsync(ctx context.Context, objID uint64, attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want ReturnPolicy) (*Future, error) {
	req, ch := c.request(ActionCallAttr, objID, attrs, args, kwargs, want, CallAsync)
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	return &Future{ch: ch}, nil
}

// CallOff invokes call_obj and returns as soon as the request is written,
// without allocating a request id or waiting for a response.
func (c *Client) CallOff(ctx context.Context, objID uint64, attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value) error {
	req, _ := c.request(ActionCallAttr, objID, attrs, args, kwargs, ReturnNone, CallOff)
	return c.send(ctx, req)
}

// GetAttr fetches an attribute value (spec.md action get_obj_attr).
func (c *Client) GetAttr(ctx context.Context, objID uint64, attrs []rpcwire.AttrStep, want ReturnPolicy) (rpcwire.Value, error) {
	req, ch := c.request(ActionGetAttr, objID, attrs, nil, nil, want, CallSync)
	if err := c.send(ctx, req); err != nil {
		return rpcwire.Value{}, err
	}
	f := &Future{ch: ch}
	return f.Wait(ctx)
}

// GetProxy requests a durable proxy handle to obj_id/attrs without
// transferring its value (spec.md action get_proxy).
func (c *Client) GetProxy(ctx context.Context, objID uint64, attrs []rpcwire.AttrStep) (*rpcwire.ProxyRecord, error) {
	req, ch := c.request(ActionGetProxy, objID, attrs, nil, nil, ReturnProxy, CallSync)
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	f := &Future{ch: ch}
	v, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != rpcwire.KindProxy {
		return nil, fmt.Errorf("rpc: get_proxy did not return a proxy value")
	}
	return v.Proxy, nil
}

// GetItem resolves a name bound in the server's Registry (see
// Registry.Bind) to a proxy, without knowing its obj_id ahead of time —
// spec.md's getitem action, a namespace lookup for any bound name, such
// as a Host's "host" entry or a NodeGroup's name.
func (c *Client) GetItem(ctx context.Context, name string) (*rpcwire.ProxyRecord, error) {
	req, ch := c.request(ActionGetItem, 0, nil, []rpcwire.Value{rpcwire.String(name)}, nil, ReturnProxy, CallSync)
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	f := &Future{ch: ch}
	v, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != rpcwire.KindProxy {
		return nil, fmt.Errorf("rpc: getitem did not return a proxy value")
	}
	return v.Proxy, nil
}

// Release decrements the remote refcount for obj_id (spec.md action
// release).
func (c *Client) Release(ctx context.Context, objID uint64) error {
	req, ch := c.request(ActionRelease, objID, nil, nil, nil, ReturnNone, CallSync)
	if err := c.send(ctx, req); err != nil {
		return err
	}
	f := &Future{ch: ch}
	_, err := f.Wait(ctx)
	return err
}

// Ping sends a liveness check and waits for the server's reply.
func (c *Client) Ping(ctx context.Context) error {
	req, ch := c.request(ActionPing, 0, nil, nil, nil, ReturnNone, CallSync)
	if err := c.send(ctx, req); err != nil {
		return err
	}
	f := &Future{ch: ch}
	_, err := f.Wait(ctx)
	return err
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.w = nil
	c.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
