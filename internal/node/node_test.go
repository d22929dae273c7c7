// Copyright 2026 The sgcore Authors. All rights reserved.

package node

import (
	"errors"
	"testing"

	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/stream"
)

// passThroughImpl is a minimal Impl that declares one output port and
// records which lifecycle hooks ran, for asserting the FSM drives them.
type passThroughImpl struct {
	configured, initialized, started, stopped int
}

func (p *passThroughImpl) Configure(n *Node, params map[string]rpcwire.Value) error {
	p.configured++
	return n.DeclareOutput("out", stream.Spec{
		Protocol:     stream.ProtoTCP,
		TransferMode: stream.TransferPlainData,
		StreamType:   stream.StreamAnalogSignal,
		DType:        rpcwire.Float32,
		Shape:        []int64{-1, 2},
		SamplingRate: 500,
	})
}

func (p *passThroughImpl) Initialize(n *Node) error {
	p.initialized++
	return nil
}

func (p *passThroughImpl) Start(n *Node) error {
	p.started++
	return nil
}

func (p *passThroughImpl) Stop(n *Node) error {
	p.stopped++
	return nil
}

func TestLifecycleHappyPath(t *testing.T) {
	impl := &passThroughImpl{}
	n := New("gen1", impl)

	if err := n.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := n.Configure(nil); err != nil {
		t.Fatalf("second Configure should be allowed: %v", err)
	}
	if impl.configured != 2 {
		t.Fatalf("expected 2 configure calls, got %d", impl.configured)
	}

	if err := n.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if n.Output("out").Stream == nil {
		t.Fatalf("expected output port to be bound after Initialize")
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.State() != StateStarted {
		t.Fatalf("expected started, got %v", n.State())
	}

	if err := n.Close(); !errors.Is(err, ErrCloseWhileStarted) {
		t.Fatalf("expected ErrCloseWhileStarted, got %v", err)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n.State() != StateCreated {
		t.Fatalf("expected created after close, got %v", n.State())
	}
}

func TestConfigureRejectedAfterInitialize(t *testing.T) {
	n := New("gen2", &passThroughImpl{})
	if err := n.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := n.Configure(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStartRequiresInitialized(t *testing.T) {
	n := New("gen3", &passThroughImpl{})
	if err := n.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition starting an uninitialized node, got %v", err)
	}
}

func TestRPCDispatchLifecycle(t *testing.T) {
	n := New("gen4", &passThroughImpl{})

	v, err := n.RPCGetAttr([]rpcwire.AttrStep{rpcwire.Attr("name")}, 0)
	if err != nil {
		t.Fatalf("RPCGetAttr name: %v", err)
	}
	if v.Str != "gen4" {
		t.Fatalf("expected name gen4, got %q", v.Str)
	}

	if _, err := n.RPCCall([]rpcwire.AttrStep{rpcwire.Attr("configure")}, nil, nil, 0); err != nil {
		t.Fatalf("RPCCall configure: %v", err)
	}
	if _, err := n.RPCCall([]rpcwire.AttrStep{rpcwire.Attr("initialize")}, nil, nil, 0); err != nil {
		t.Fatalf("RPCCall initialize: %v", err)
	}

	v, err = n.RPCGetAttr([]rpcwire.AttrStep{rpcwire.Attr("state")}, 0)
	if err != nil {
		t.Fatalf("RPCGetAttr state: %v", err)
	}
	if v.Str != "initialized" {
		t.Fatalf("expected state initialized, got %q", v.Str)
	}
}
