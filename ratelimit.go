package conveyor

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedBackend wraps a backend with a token bucket limiter.
type RateLimitedBackend struct {
	backend  Backend
	limiter  *rate.Limiter
	perBatch bool
}

// NewRateLimitedBackend creates a backend that waits on limiter before each
// call. If perBatch is true, each call takes one token. If perBatch is
// false, each entry takes one token, and the limiter burst must be at
// least the largest batch.
func NewRateLimitedBackend(backend Backend, limiter *rate.Limiter, perBatch bool) *RateLimitedBackend {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	if limiter == nil {
		panic("conveyor: limiter cannot be nil")
	}
	return &RateLimitedBackend{
		backend:  backend,
		limiter:  limiter,
		perBatch: perBatch,
	}
}

// NewEntryLimiter returns a limiter allowing perSecond entries per second
// with bursts of up to burst entries.
func NewEntryLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		panic("conveyor: rate must be positive")
	}
	if burst <= 0 {
		panic("conveyor: burst must be positive")
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Submit implements Backend with rate limiting. A context that ends while
// waiting, or a call needing more tokens than the burst, fails the call.
func (r *RateLimitedBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	n := len(entries)
	if r.perBatch {
		n = 1
	}
	if err := r.limiter.WaitN(ctx, n); err != nil {
		return nil, err
	}
	return r.backend.Submit(ctx, entries)
}

// RateLimitMiddleware creates a middleware that rate limits backend calls.
func RateLimitMiddleware(limiter *rate.Limiter, perBatch bool) Middleware {
	if limiter == nil {
		panic("conveyor: limiter cannot be nil")
	}
	return func(backend Backend) Backend {
		return NewRateLimitedBackend(backend, limiter, perBatch)
	}
}
