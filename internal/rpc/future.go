// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"context"
	"fmt"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// Future is the handle returned by an async call (spec.md §4.2 call mode
// "async"). Wait blocks until the matching response arrives or ctx is
// done.
type Future struct {
	ch <-chan Response
}

// Wait blocks for the response and returns its value, or the remote error
// if the call failed server-side.
func (f *Future) Wait(ctx context.Context) (rpcwire.Value, error) {
	select {
	case resp, ok := <-f.ch:
		if !ok {
			return rpcwire.Value{}, fmt.Errorf("rpc: connection closed before response arrived")
		}
		if !resp.OK {
			return rpcwire.Value{}, fmt.Errorf("rpc: remote error: %s", resp.Err)
		}
		return resp.Value, nil
	case <-ctx.Done():
		return rpcwire.Value{}, ctx.Err()
	}
}
