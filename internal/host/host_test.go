// Copyright 2026 The sgcore Authors. All rights reserved.

package host

import (
	"context"
	"testing"
	"time"

	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
)

func TestCreateNodeGroupReachableByProxy(t *testing.T) {
	h := New(nil)
	if err := h.Serve("127.0.0.1:0"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer h.Close()

	client := rpc.NewClient(h.Address(), nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := client.CallSync(ctx, h.HostObjID, []rpcwire.AttrStep{rpcwire.Attr("create_nodegroup")}, []rpcwire.Value{rpcwire.String("g1")}, nil, rpc.ReturnProxy)
	if err != nil {
		t.Fatalf("create_nodegroup: %v", err)
	}
	if v.Kind != rpcwire.KindProxy {
		t.Fatalf("expected a proxy value, got kind %v", v.Kind)
	}
	if v.Proxy.TypeName != "nodegroup" {
		t.Fatalf("expected nodegroup proxy, got %q", v.Proxy.TypeName)
	}

	if h.NodeGroup("g1") == nil {
		t.Fatalf("expected nodegroup g1 to exist locally")
	}

	attrV, err := client.GetAttr(ctx, v.Proxy.ObjID, []rpcwire.AttrStep{rpcwire.Attr("name")}, rpc.ReturnValue)
	if err != nil {
		t.Fatalf("GetAttr name via proxy: %v", err)
	}
	if attrV.Str != "g1" {
		t.Fatalf("expected nodegroup name g1, got %q", attrV.Str)
	}
}

func TestCloseNodeGroupRemovesIt(t *testing.T) {
	h := New(nil)
	if _, _, err := h.CreateNodeGroup("g2"); err != nil {
		t.Fatalf("CreateNodeGroup: %v", err)
	}
	if err := h.CloseNodeGroup("g2"); err != nil {
		t.Fatalf("CloseNodeGroup: %v", err)
	}
	if h.NodeGroup("g2") != nil {
		t.Fatalf("expected g2 to be gone")
	}
}
