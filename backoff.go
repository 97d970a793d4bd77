package conveyor

import (
	"math/rand"
	"time"
)

const maxDuration = time.Duration(1<<63 - 1)

// Backoff computes the delay before a retry round:
//
//	Delay(attempt) = min(MaxDelay, BaseDelay * 2^attempt) + jitter
//
// where jitter is uniform in [0, BaseDelay). Jitter keeps concurrent
// submitters from retrying in lockstep against a throttling backend.
type Backoff struct {
	// BaseDelay is the delay after the first failed round, before jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential part. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultBackoff returns a backoff of 100ms doubling up to 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
}

// Exponential returns the deterministic part of the delay for the given
// 0-indexed attempt. It is non-decreasing in attempt and never exceeds
// MaxDelay when MaxDelay is set.
func (b Backoff) Exponential(attempt int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	limit := b.MaxDelay
	if limit <= 0 {
		limit = maxDuration
	}
	d := b.BaseDelay
	for i := 0; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Delay returns the delay to sleep after the given 0-indexed attempt.
// It is bounded above by MaxDelay + BaseDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Exponential(attempt)
	if b.BaseDelay > 0 {
		jitter := time.Duration(rand.Int63n(int64(b.BaseDelay)))
		if d > maxDuration-jitter {
			return maxDuration
		}
		d += jitter
	}
	return d
}
