// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/transport"
	"golang.org/x/time/rate"
)

// Server is the RPC substrate's listening side: one bound address, one
// object Registry, one goroutine per accepted connection dispatching
// requests in the order they arrive — the teacher's one-goroutine-per-
// connection shape (internal/server/server.go) rather than a shared
// worker pool, since each connection's requests must stay strictly
// ordered (spec.md invariant 6).
type Server struct {
	Address  string
	Registry *Registry
	logger   *slog.Logger

	// Limiter, when non-nil, throttles incoming requests across every
	// connection this Server accepts — the Manager sets this from
	// config.ManagerConfig.RateLimit to protect a Host from a runaway
	// remote caller.
	Limiter *rate.Limiter

	// TLSConfig, when non-nil, makes Serve terminate mutual TLS on every
	// accepted connection instead of plaintext — see internal/pki for
	// building one from config.TLSServer paths. inproc/test addresses
	// leave this nil.
	TLSConfig *tls.Config

	// DSCP, when non-zero, is applied to every accepted connection (see
	// ParseDSCP) so stream traffic is marked for priority handling.
	DSCP int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewServer creates a Server bound to a Registry; call Serve to start
// accepting connections on address.
func NewServer(registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Registry: registry,
		logger:   logger.With("component", "rpc.server"),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve binds address (use ":0" to let the OS pick a port) and accepts
// connections until Close is called. The Address field holds the resolved
// bind address once this returns.
func (s *Server) Serve(address string) error {
	ln, err := transport.Listen(address)
	if err != nil {
		return fmt.Errorf("rpc: binding server: %w", err)
	}
	scheme, _ := transport.Parse(address)
	if s.TLSConfig != nil && scheme != transport.SchemeInproc {
		ln = tls.NewListener(ln, s.TLSConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.Address = ln.Addr().String()
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		if err := applyDSCP(conn, s.DSCP); err != nil {
			s.logger.Warn("rpc server dscp marking failed", "error", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := decodeRequest(r)
		if err != nil {
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) {
				// Outer envelope (req_id/action/return_type) parsed fine;
				// only the opts payload was malformed. spec.md §4.2
				// requires this be logged and answered, not treated as a
				// fatal connection error.
				s.logger.Warn("rpc protocol error: malformed opts", "error", protoErr.Err, "req_id", protoErr.Req.ReqID, "action", protoErr.Req.Action)
				if protoErr.Req.ReqID != 0 {
					resp := Response{ReqID: protoErr.Req.ReqID, Err: protoErr.Error()}
					if err := encodeResponse(w, resp); err == nil {
						w.Flush()
					}
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("rpc connection read failed", "error", err)
			}
			return
		}

		if s.Limiter != nil {
			if err := s.Limiter.Wait(context.Background()); err != nil {
				s.logger.Warn("rpc rate limiter wait failed", "error", err)
				return
			}
		}

		resp := s.dispatch(req)
		if req.ReqID == 0 {
			continue // off-mode call: no response expected
		}
		if err := encodeResponse(w, resp); err != nil {
			s.logger.Warn("rpc connection write failed", "error", err)
			return
		}
		if err := w.Flush(); err != nil {
			s.logger.Warn("rpc connection flush failed", "error", err)
			return
		}
	}
}

// dispatch executes one request against the registry and builds its
// response. Requests with ReqID == 0 (call mode "off") still execute —
// the caller simply never reads a response — matching spec.md §4.2's
// "off mode fires the call but does not wait".
func (s *Server) dispatch(req Request) Response {
	resp := Response{ReqID: req.ReqID}

	switch req.Action {
	case ActionPing:
		resp.OK = true
		resp.Value = rpcwire.Nil()
		return resp

	case ActionCloseServer:
		resp.OK = true
		resp.Value = rpcwire.Nil()
		go s.Close()
		return resp

	case ActionReleaseAll:
		s.Registry.ReleaseAll()
		resp.OK = true
		resp.Value = rpcwire.Nil()
		return resp

	case ActionGetItem:
		name := ""
		if len(req.Args) > 0 {
			name = req.Args[0].Str
		}
		id, err := s.Registry.Named(name)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		_, typeName, err := s.Registry.Lookup(id)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Value = rpcwire.FromProxy(&rpcwire.ProxyRecord{Address: s.Address, ObjID: id, TypeName: typeName})
		return resp
	}

	obj, typeName, err := s.Registry.Lookup(req.ObjID)
	if err != nil {
		resp.OK = false
		resp.Err = err.Error()
		return resp
	}

	switch req.Action {
	case ActionGetAttr, ActionTransfer:
		want := req.Return
		if req.Action == ActionTransfer {
			want = ReturnValue
		}
		v, err := obj.RPCGetAttr(req.Attrs, want)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Value = v
		return resp

	case ActionCallAttr, ActionImport:
		v, err := obj.RPCCall(req.Attrs, req.Args, req.Kwargs, req.Return)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Value = v
		return resp

	case ActionGetProxy:
		rec := &rpcwire.ProxyRecord{Address: s.Address, ObjID: req.ObjID, TypeName: typeName, Attrs: req.Attrs}
		resp.OK = true
		resp.Value = rpcwire.FromProxy(rec)
		return resp

	case ActionRelease:
		if _, err := s.Registry.Release(req.ObjID); err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Value = rpcwire.Nil()
		return resp

	case ActionDelete:
		if _, err := s.Registry.Release(req.ObjID); err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.OK = true
		resp.Value = rpcwire.Nil()
		return resp

	default:
		s.logger.Warn("rpc protocol error: unknown action", "action", req.Action, "req_id", req.ReqID)
		resp.Err = fmt.Sprintf("rpc: unknown action %v", req.Action)
		return resp
	}
}

// Close stops accepting new connections and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for c := range conns {
		c.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
