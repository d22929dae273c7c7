// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// Request is one RPC envelope sent from client to server. ReqID is 0 for
// off-mode calls, which never receive a Response.
type Request struct {
	ReqID  uint64
	Action Action
	Return ReturnPolicy
	ObjID  uint64
	Attrs  []rpcwire.AttrStep
	Args   []rpcwire.Value
	Kwargs map[string]rpcwire.Value
}

// Response is the server's reply to a Request with a nonzero ReqID.
type Response struct {
	ReqID uint64
	OK    bool
	Value rpcwire.Value
	Err   string
}

// ProtocolError is returned by decodeRequest when the outer envelope layer
// (req_id/action/return_type) parsed cleanly but the action-specific opts
// payload did not (spec.md §4.2: "opts ... double-encoded as bytes so the
// envelope parses even if payload fails"). Req carries whatever the outer
// layer recovered, so the caller can still address a response at the right
// req_id instead of tearing down the connection — unlike a failure to parse
// the outer envelope itself, which is unrecoverable and reported as a plain
// error.
type ProtocolError struct {
	Req Request
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("rpc: malformed opts: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// encodeRequest/decodeRequest split the envelope into the two layers
// spec.md §4.2 describes: an outer map holding req_id/action/return_type
// plus an opts field that is itself an independently-encoded byte string.
// Reusing the single rpcwire codec for both layers mirrors the teacher's
// one frame writer/reader for every protocol message (internal/protocol/
// frames.go), just applied twice — once for the envelope, once for opts.
func encodeRequest(w io.Writer, req Request) error {
	optsBytes, err := encodeRequestOpts(req)
	if err != nil {
		return fmt.Errorf("rpc: encoding request opts: %w", err)
	}

	outer := rpcwire.Map(map[string]rpcwire.Value{
		"req_id":      rpcwire.Int(int64(req.ReqID)),
		"action":      rpcwire.Int(int64(req.Action)),
		"return_type": rpcwire.Int(int64(req.Return)),
		"opts":        rpcwire.Bytes(optsBytes),
	})
	return rpcwire.Encode(w, outer)
}

func encodeRequestOpts(req Request) ([]byte, error) {
	attrSlice := make([]rpcwire.Value, len(req.Attrs))
	for i, a := range req.Attrs {
		attrSlice[i] = rpcwire.Map(map[string]rpcwire.Value{
			"is_index": rpcwire.Bool(a.IsIndex),
			"name":     rpcwire.String(a.Name),
			"index":    rpcwire.Int(a.Index),
		})
	}

	argsSlice := make([]rpcwire.Value, len(req.Args))
	copy(argsSlice, req.Args)

	kwargs := req.Kwargs
	if kwargs == nil {
		kwargs = map[string]rpcwire.Value{}
	}

	opts := rpcwire.Map(map[string]rpcwire.Value{
		"obj_id": rpcwire.Int(int64(req.ObjID)),
		"attrs":  rpcwire.Slice(attrSlice),
		"args":   rpcwire.Slice(argsSlice),
		"kwargs": rpcwire.Map(kwargs),
	})

	var buf bytes.Buffer
	if err := rpcwire.Encode(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRequest parses the outer envelope layer first. A failure here (EOF,
// a truncated frame, a non-map outer value) is unrecoverable for the
// connection — there is no req_id to answer with. Once req_id/action/
// return_type are in hand, decoding opts is attempted separately; if that
// fails, decodeRequest still returns the partially-populated Request
// alongside a *ProtocolError, so the caller can reply with an error
// Response instead of losing the connection (spec.md §4.2 invariant on
// malformed payloads).
func decodeRequest(r io.Reader) (Request, error) {
	v, err := rpcwire.Decode(r)
	if err != nil {
		return Request{}, err
	}
	if v.Kind != rpcwire.KindMap {
		return Request{}, fmt.Errorf("rpc: request envelope is not a map")
	}
	m := v.Map

	req := Request{
		ReqID:  uint64(m["req_id"].Int),
		Action: Action(m["action"].Int),
		Return: ReturnPolicy(m["return_type"].Int),
	}

	objID, attrs, args, kwargs, err := decodeRequestOpts(m["opts"].Bytes)
	if err != nil {
		return req, &ProtocolError{Req: req, Err: err}
	}
	req.ObjID = objID
	req.Attrs = attrs
	req.Args = args
	req.Kwargs = kwargs
	return req, nil
}

func decodeRequestOpts(raw []byte) (objID uint64, attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, err error) {
	v, err := rpcwire.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("decoding opts payload: %w", err)
	}
	if v.Kind != rpcwire.KindMap {
		return 0, nil, nil, nil, fmt.Errorf("opts payload is not a map")
	}
	m := v.Map

	attrVals := m["attrs"].Slice
	attrSteps := make([]rpcwire.AttrStep, len(attrVals))
	for i, av := range attrVals {
		am := av.Map
		if am["is_index"].Bool {
			attrSteps[i] = rpcwire.Index(am["index"].Int)
		} else {
			attrSteps[i] = rpcwire.Attr(am["name"].Str)
		}
	}

	return uint64(m["obj_id"].Int), attrSteps, m["args"].Slice, m["kwargs"].Map, nil
}

func encodeResponse(w io.Writer, resp Response) error {
	v := rpcwire.Map(map[string]rpcwire.Value{
		"req_id": rpcwire.Int(int64(resp.ReqID)),
		"ok":     rpcwire.Bool(resp.OK),
		"value":  resp.Value,
		"err":    rpcwire.String(resp.Err),
	})
	return rpcwire.Encode(w, v)
}

func decodeResponse(r io.Reader) (Response, error) {
	v, err := rpcwire.Decode(r)
	if err != nil {
		return Response{}, err
	}
	if v.Kind != rpcwire.KindMap {
		return Response{}, fmt.Errorf("rpc: response envelope is not a map")
	}
	m := v.Map
	return Response{
		ReqID: uint64(m["req_id"].Int),
		OK:    m["ok"].Bool,
		Value: m["value"],
		Err:   m["err"].Str,
	}, nil
}
