// Copyright 2026 The sgcore Authors. All rights reserved.

package nodegroup

import (
	"errors"
	"testing"

	"github.com/sig-graph/sgcore/internal/node"
	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
)

type noopImpl struct{}

func (noopImpl) Configure(n *node.Node, params map[string]rpcwire.Value) error { return nil }
func (noopImpl) Initialize(n *node.Node) error                                 { return nil }
func (noopImpl) Start(n *node.Node) error                                      { return nil }
func (noopImpl) Stop(n *node.Node) error                                       { return nil }

func TestCreateAndRemoveNode(t *testing.T) {
	g := New("grp1", nil, "")
	g.RegisterType("noop", func() node.Impl { return noopImpl{} })

	n, err := g.CreateNode("a", "noop")
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if n.Name() != "a" {
		t.Fatalf("expected node name a, got %q", n.Name())
	}

	if _, err := g.CreateNode("a", "noop"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	if _, err := g.CreateNode("b", "missing-type"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}

	if err := g.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if g.Node("a") != nil {
		t.Fatalf("expected node a to be gone")
	}
}

func TestRemoveNodeRejectedWhileRunning(t *testing.T) {
	g := New("grp2", nil, "")
	g.RegisterType("noop", func() node.Impl { return noopImpl{} })

	n, err := g.CreateNode("a", "noop")
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := n.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := g.RemoveNode("a"); !errors.Is(err, ErrNodeRunning) {
		t.Fatalf("expected ErrNodeRunning, got %v", err)
	}
	if !g.AnyNodeRunning() {
		t.Fatalf("expected AnyNodeRunning to report true")
	}
}

func TestCloseStopsAndClosesAllNodes(t *testing.T) {
	g := New("grp3", nil, "")
	g.RegisterType("noop", func() node.Impl { return noopImpl{} })

	n, err := g.CreateNode("a", "noop")
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := n.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n.State() != node.StateCreated {
		t.Fatalf("expected node reset to created after group Close, got %v", n.State())
	}
}

func TestRPCDispatchCreateNode(t *testing.T) {
	reg := rpc.NewRegistry()
	g := New("grp4", reg, "127.0.0.1:9999")
	g.RegisterType("noop", func() node.Impl { return noopImpl{} })

	v, err := g.RPCCall([]rpcwire.AttrStep{rpcwire.Attr("create_node")}, []rpcwire.Value{rpcwire.String("x"), rpcwire.String("noop")}, nil, 0)
	if err != nil {
		t.Fatalf("RPCCall create_node: %v", err)
	}
	if v.Kind != rpcwire.KindProxy {
		t.Fatalf("expected create_node to return a proxy, got kind %v", v.Kind)
	}
	if v.Proxy.Address != "127.0.0.1:9999" || v.Proxy.TypeName != "node" {
		t.Fatalf("unexpected proxy: %+v", v.Proxy)
	}

	obj, typeName, err := reg.Lookup(v.Proxy.ObjID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if typeName != "node" {
		t.Fatalf("expected type name node, got %q", typeName)
	}
	if n, ok := obj.(*node.Node); !ok || n.Name() != "x" {
		t.Fatalf("expected registered object to be node x, got %+v", obj)
	}
}
