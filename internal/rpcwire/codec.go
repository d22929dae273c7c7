// Copyright 2026 The sgcore Authors. All rights reserved.

package rpcwire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Errors returned by the codec. Mirrors the teacher's flat sentinel-error
// style (no custom error framework).
var (
	ErrTruncated    = errors.New("rpcwire: truncated value")
	ErrUnknownKind  = errors.New("rpcwire: unknown value kind")
	ErrTooLarge     = errors.New("rpcwire: encoded length exceeds limit")
)

// MaxBytesLen bounds any single byte-string/array payload decoded from the
// wire, protecting against a malformed length header causing an OOM. Mirrors
// the teacher's maxChunkLength guard in internal/server/assembler.go.
const MaxBytesLen = 64 * 1024 * 1024

// Encode writes v to w in sgcore's binary value format: one byte Kind tag
// followed by a kind-specific, fixed-width-prefixed body.
func Encode(w io.Writer, v Value) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
		defer bw.Flush()
	}
	if err := bw.WriteByte(byte(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case KindNil:
		return nil
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return bw.WriteByte(b)
	case KindInt64:
		return binary.Write(bw, binary.BigEndian, v.Int)
	case KindFloat64:
		return binary.Write(bw, binary.BigEndian, v.Float)
	case KindString:
		return writeBytes(bw, []byte(v.Str))
	case KindBytes:
		return writeBytes(bw, v.Bytes)
	case KindSlice:
		if err := binary.Write(bw, binary.BigEndian, uint32(len(v.Slice))); err != nil {
			return err
		}
		for _, elem := range v.Slice {
			if err := Encode(bw, elem); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := binary.Write(bw, binary.BigEndian, uint32(len(v.Map))); err != nil {
			return err
		}
		for k, val := range v.Map {
			if err := writeBytes(bw, []byte(k)); err != nil {
				return err
			}
			if err := Encode(bw, val); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		return encodeArray(bw, v.Array)
	case KindProxy:
		return encodeProxy(bw, v.Proxy)
	default:
		return ErrUnknownKind
	}
}

// Decode reads one Value from r in the format written by Encode.
func Decode(r io.Reader) (Value, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	kindByte, err := br.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("rpcwire: reading kind tag: %w", err)
	}
	kind := Kind(kindByte)
	switch kind {
	case KindNil:
		return Nil(), nil
	case KindBool:
		b, err := br.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindInt64:
		var i int64
		if err := binary.Read(br, binary.BigEndian, &i); err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case KindFloat64:
		var f float64
		if err := binary.Read(br, binary.BigEndian, &f); err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindString:
		b, err := readBytes(br)
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case KindBytes:
		b, err := readBytes(br)
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case KindSlice:
		var n uint32
		if err := binary.Read(br, binary.BigEndian, &n); err != nil {
			return Value{}, err
		}
		out := make([]Value, n)
		for i := range out {
			elem, err := Decode(br)
			if err != nil {
				return Value{}, err
			}
			out[i] = elem
		}
		return Slice(out), nil
	case KindMap:
		var n uint32
		if err := binary.Read(br, binary.BigEndian, &n); err != nil {
			return Value{}, err
		}
		out := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			keyB, err := readBytes(br)
			if err != nil {
				return Value{}, err
			}
			val, err := Decode(br)
			if err != nil {
				return Value{}, err
			}
			out[string(keyB)] = val
		}
		return Map(out), nil
	case KindArray:
		a, err := decodeArray(br)
		if err != nil {
			return Value{}, err
		}
		return FromArray(a), nil
	case KindProxy:
		p, err := decodeProxy(br)
		if err != nil {
			return Value{}, err
		}
		return FromProxy(p), nil
	default:
		return Value{}, ErrUnknownKind
	}
}

func writeBytes(w *bufio.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r *bufio.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("rpcwire: reading length prefix: %w", err)
	}
	if n > MaxBytesLen {
		return nil, ErrTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rpcwire: reading %d bytes: %w", n, err)
	}
	return buf, nil
}

func encodeArray(w *bufio.Writer, a *Array) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := w.WriteByte(byte(a.DType)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(a.Shape))); err != nil {
		return err
	}
	for _, d := range a.Shape {
		if err := binary.Write(w, binary.BigEndian, d); err != nil {
			return err
		}
	}
	return writeBytes(w, a.Data)
}

func decodeArray(r *bufio.Reader) (*Array, error) {
	dtByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var nDims uint32
	if err := binary.Read(r, binary.BigEndian, &nDims); err != nil {
		return nil, err
	}
	shape := make([]int64, nDims)
	for i := range shape {
		if err := binary.Read(r, binary.BigEndian, &shape[i]); err != nil {
			return nil, err
		}
	}
	data, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	a := &Array{DType: DType(dtByte), Shape: shape, Data: data}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// encodeProxy writes the {__proxy__, address, obj_id, type_name, attributes}
// tagged record (spec.md §4.1).
func encodeProxy(w *bufio.Writer, p *ProxyRecord) error {
	if err := writeBytes(w, []byte(p.Address)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, p.ObjID); err != nil {
		return err
	}
	if err := writeBytes(w, []byte(p.TypeName)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Attrs))); err != nil {
		return err
	}
	for _, step := range p.Attrs {
		isIndex := byte(0)
		if step.IsIndex {
			isIndex = 1
		}
		if err := w.WriteByte(isIndex); err != nil {
			return err
		}
		if step.IsIndex {
			if err := binary.Write(w, binary.BigEndian, step.Index); err != nil {
				return err
			}
		} else if err := writeBytes(w, []byte(step.Name)); err != nil {
			return err
		}
	}
	return nil
}

func decodeProxy(r *bufio.Reader) (*ProxyRecord, error) {
	addrB, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var objID uint64
	if err := binary.Read(r, binary.BigEndian, &objID); err != nil {
		return nil, err
	}
	typeB, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var nAttrs uint32
	if err := binary.Read(r, binary.BigEndian, &nAttrs); err != nil {
		return nil, err
	}
	attrs := make([]AttrStep, nAttrs)
	for i := range attrs {
		isIndex, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if isIndex != 0 {
			var idx int64
			if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
				return nil, err
			}
			attrs[i] = Index(idx)
		} else {
			nameB, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			attrs[i] = Attr(string(nameB))
		}
	}
	return &ProxyRecord{Address: string(addrB), ObjID: objID, TypeName: string(typeB), Attrs: attrs}, nil
}
