// Copyright 2026 The sgcore Authors. All rights reserved.

package stream

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxThrottleBurst bounds the token bucket burst size regardless of the
// configured rate, so a sudden large chunk never reserves an unbounded
// number of tokens at once.
const maxThrottleBurst = 256 * 1024

// newStreamLimiter builds the token bucket an OutputStream shares across
// every one of its plaindata consumers (see throttledWriter) so
// spec.RateLimitBps caps the stream's total egress, not each fan-out
// connection independently — a dozen subscribers to the same output port
// split one budget rather than each getting their own copy of it.
// Returns nil when bytesPerSec <= 0 (no limit configured).
func newStreamLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst > maxThrottleBurst {
		burst = maxThrottleBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// throttledWriter wraps an io.Writer, drawing from a limiter shared with
// every sibling consumer of the same OutputStream, splitting writes
// larger than the burst size into chunks so the limiter is consumed
// gradually rather than in one large reservation.
type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledWriter returns w unchanged if limiter is nil (stream has no
// configured rate limit), otherwise a writer drawing from limiter.
func newThrottledWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &throttledWriter{w: w, limiter: limiter, ctx: ctx}
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}

		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
