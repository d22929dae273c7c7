// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// counterObj is a minimal Dispatchable test double exposing a "value"
// attribute and an "add" method.
type counterObj struct {
	value int64
}

func (c *counterObj) RPCGetAttr(attrs []rpcwire.AttrStep, want ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) == 1 && attrs[0].Name == "value" {
		return rpcwire.Int(c.value), nil
	}
	return rpcwire.Value{}, fmt.Errorf("counterObj: unknown attribute")
}

func (c *counterObj) RPCCall(attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) == 1 && attrs[0].Name == "add" && len(args) == 1 {
		c.value += args[0].Int
		return rpcwire.Int(c.value), nil
	}
	return rpcwire.Value{}, fmt.Errorf("counterObj: unknown method")
}

func startTestServer(t *testing.T) (*Server, *Registry, uint64) {
	t.Helper()
	reg := NewRegistry()
	objID := reg.Register(&counterObj{value: 10}, "counter")
	srv := NewServer(reg, nil)
	if err := srv.Serve("127.0.0.1:0"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, reg, objID
}

func TestPingRoundTrip(t *testing.T) {
	srv, _, _ := startTestServer(t)
	client := NewClient(srv.Address, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCallSyncGetAttrAndMutate(t *testing.T) {
	srv, _, objID := startTestServer(t)
	client := NewClient(srv.Address, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := client.GetAttr(ctx, objID, []rpcwire.AttrStep{rpcwire.Attr("value")}, ReturnValue)
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if v.Int != 10 {
		t.Fatalf("expected 10, got %d", v.Int)
	}

	v, err = client.CallSync(ctx, objID, []rpcwire.AttrStep{rpcwire.Attr("add")}, []rpcwire.Value{rpcwire.Int(5)}, nil, ReturnValue)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if v.Int != 15 {
		t.Fatalf("expected 15, got %d", v.Int)
	}
}

func TestCallAsyncFuture(t *testing.T) {
	srv, _, objID := startTestServer(t)
	client := NewClient(srv.Address, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fut, err := client.CallAsync(ctx, objID, []rpcwire.AttrStep{rpcwire.Attr("add")}, []rpcwire.Value{rpcwire.Int(1)}, nil, ReturnValue)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	v, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v.Int != 11 {
		t.Fatalf("expected 11, got %d", v.Int)
	}
}

func TestUnknownObjectIDFails(t *testing.T) {
	srv, _, _ := startTestServer(t)
	client := NewClient(srv.Address, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.GetAttr(ctx, 9999, []rpcwire.AttrStep{rpcwire.Attr("value")}, ReturnValue)
	if err == nil {
		t.Fatalf("expected error for unknown object id")
	}
}

func TestGetProxyAndRelease(t *testing.T) {
	srv, reg, objID := startTestServer(t)
	client := NewClient(srv.Address, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	proxy, err := client.GetProxy(ctx, objID, nil)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy.Address != srv.Address || proxy.ObjID != objID {
		t.Fatalf("unexpected proxy: %+v", proxy)
	}

	if err := client.Release(ctx, objID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry empty after release, got %d entries", reg.Len())
	}
}

func TestRegistryRefcounting(t *testing.T) {
	reg := NewRegistry()
	id := reg.Register(&counterObj{}, "counter")

	if err := reg.Retain(id); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	removed, err := reg.Release(id)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if removed {
		t.Fatalf("expected entry to survive first release after retain")
	}
	removed, err = reg.Release(id)
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if !removed {
		t.Fatalf("expected entry removed after refcount reaches zero")
	}
}
