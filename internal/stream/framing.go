// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes identifying a control-packet frame on the wire, in the
// teacher's magic-prefixed-frame idiom (internal/protocol/frames.go).
var (
	MagicChunkControl = [4]byte{'S', 'G', 'C', 'K'} // plaindata: head+length+meta+payload
	MagicHeadOnly      = [4]byte{'S', 'G', 'H', 'D'} // sharedmem: head+length+meta only
)

// ErrInvalidMagic mirrors internal/protocol/frames.go's ErrInvalidMagic.
var ErrInvalidMagic = errors.New("stream: invalid control frame magic")

// ControlFrame is the fixed-small control packet spec.md §6 describes:
// {head: u64, length: u32, meta?: bytes, payload?: bytes}. Payload is
// empty/absent for sharedmem (the receiver fetches samples from the ring).
type ControlFrame struct {
	Head    uint64
	Length  uint32
	Meta    []byte
	Payload []byte // present only in plaindata mode
}

// WriteControlFrame writes a plaindata control frame: magic, head, length,
// meta (length-prefixed), payload (length-prefixed).
func WriteControlFrame(w io.Writer, f ControlFrame) error {
	if err := writeFrameHeader(w, MagicChunkControl, f); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(f.Payload))); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// WriteHeadFrame writes a sharedmem control frame carrying only head,
// length and meta — the receiver reads samples from the ring at
// [head-length, head).
func WriteHeadFrame(w io.Writer, f ControlFrame) error {
	return writeFrameHeader(w, MagicHeadOnly, f)
}

func writeFrameHeader(w io.Writer, magic [4]byte, f ControlFrame) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, f.Head); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, f.Length); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(f.Meta))); err != nil {
		return err
	}
	_, err := w.Write(f.Meta)
	return err
}

// ReadControlFrame reads and validates whichever of the two frame kinds is
// next on r, determined by its magic.
func ReadControlFrame(r io.Reader) (ControlFrame, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return ControlFrame{}, fmt.Errorf("stream: reading control frame magic: %w", err)
	}

	var f ControlFrame
	if err := binary.Read(r, binary.BigEndian, &f.Head); err != nil {
		return ControlFrame{}, fmt.Errorf("stream: reading head: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &f.Length); err != nil {
		return ControlFrame{}, fmt.Errorf("stream: reading length: %w", err)
	}
	var metaLen uint32
	if err := binary.Read(r, binary.BigEndian, &metaLen); err != nil {
		return ControlFrame{}, fmt.Errorf("stream: reading meta length: %w", err)
	}
	if metaLen > 0 {
		f.Meta = make([]byte, metaLen)
		if _, err := io.ReadFull(r, f.Meta); err != nil {
			return ControlFrame{}, fmt.Errorf("stream: reading meta: %w", err)
		}
	}

	switch magic {
	case MagicChunkControl:
		var payloadLen uint32
		if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
			return ControlFrame{}, fmt.Errorf("stream: reading payload length: %w", err)
		}
		if payloadLen > 0 {
			f.Payload = make([]byte, payloadLen)
			if _, err := io.ReadFull(r, f.Payload); err != nil {
				return ControlFrame{}, fmt.Errorf("stream: reading payload: %w", err)
			}
		}
	case MagicHeadOnly:
		// no payload on the wire; caller fetches from the shared ring.
	default:
		return ControlFrame{}, ErrInvalidMagic
	}

	return f, nil
}
