package conveyor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCallTimeout is returned when a single backend call exceeds its
// deadline. It wraps ErrUnavailable, so the Submitter retries the round.
var ErrCallTimeout = fmt.Errorf("conveyor: call timed out: %w", ErrUnavailable)

// TimeoutBackend bounds every Submit call with its own deadline.
type TimeoutBackend struct {
	backend Backend
	timeout time.Duration
}

// NewTimeoutBackend creates a backend whose calls time out after timeout.
// A call cut short by this timeout, while the caller's context is still
// live, fails with ErrCallTimeout.
func NewTimeoutBackend(backend Backend, timeout time.Duration) *TimeoutBackend {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	if timeout <= 0 {
		panic("conveyor: timeout must be positive")
	}
	return &TimeoutBackend{
		backend: backend,
		timeout: timeout,
	}
}

// Submit implements Backend with a per-call timeout.
func (t *TimeoutBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	results, err := t.backend.Submit(callCtx, entries)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrCallTimeout
	}
	return results, err
}

// TimeoutMiddleware creates a middleware that adds a per-call timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	if timeout <= 0 {
		panic("conveyor: timeout must be positive")
	}
	return func(backend Backend) Backend {
		return NewTimeoutBackend(backend, timeout)
	}
}

// TimeoutStatusSource bounds every Status call with its own deadline. A
// poll cut short this way fails with ErrCallTimeout, which the Waiter
// treats as transient.
type TimeoutStatusSource struct {
	source  StatusSource
	timeout time.Duration
}

// NewTimeoutStatusSource creates a status source whose polls time out after timeout.
func NewTimeoutStatusSource(source StatusSource, timeout time.Duration) *TimeoutStatusSource {
	if source == nil {
		panic("conveyor: source cannot be nil")
	}
	if timeout <= 0 {
		panic("conveyor: timeout must be positive")
	}
	return &TimeoutStatusSource{source: source, timeout: timeout}
}

// Status implements StatusSource with a per-call timeout.
func (t *TimeoutStatusSource) Status(ctx context.Context, operationID string) (Status, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	st, err := t.source.Status(callCtx, operationID)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Status{}, ErrCallTimeout
	}
	return st, err
}

// ContextBackend allows adding values to the context before submitting.
type ContextBackend struct {
	backend Backend
	prepare func(ctx context.Context, entries []Entry) context.Context
}

// NewContextBackend creates a backend that enriches the context.
// The prepare function can add values to the context before each call.
func NewContextBackend(backend Backend, prepare func(ctx context.Context, entries []Entry) context.Context) *ContextBackend {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	if prepare == nil {
		panic("conveyor: prepare cannot be nil")
	}
	return &ContextBackend{
		backend: backend,
		prepare: prepare,
	}
}

// Submit implements Backend with context enrichment.
func (c *ContextBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	return c.backend.Submit(c.prepare(ctx, entries), entries)
}

// Cancel forwards to the wrapped source if it implements Canceller. The
// cancel call gets the same per-call deadline as Status.
func (t *TimeoutStatusSource) Cancel(ctx context.Context, operationID string) error {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return cancelVia(callCtx, t.source, operationID)
}

func cancelVia(ctx context.Context, source StatusSource, operationID string) error {
	c, ok := source.(Canceller)
	if !ok {
		return ErrCancelUnsupported
	}
	return c.Cancel(ctx, operationID)
}
