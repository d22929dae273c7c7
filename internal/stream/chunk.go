// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

// Chunk is a contiguous block of samples carrying the absolute head
// position after it (spec.md §3 "Sample chunk"). Head is the total number
// of samples produced on this stream since it started, strictly monotonic
// across chunks delivered on the same stream.
type Chunk struct {
	Head    uint64
	Payload []byte
}

// Len returns the number of samples carried by the chunk, given the
// stream's per-sample element size in bytes.
func (c Chunk) Len(elemSize int) int {
	if elemSize <= 0 {
		return 0
	}
	return len(c.Payload) / elemSize
}
