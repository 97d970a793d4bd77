package conveyor

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle state of an asynchronous backend operation.
type State int

const (
	// StateSubmitted means the backend accepted the operation but has not
	// started it.
	StateSubmitted State = iota
	// StateRunning means the operation is in progress.
	StateRunning
	// StateSucceeded is terminal: the operation completed.
	StateSucceeded
	// StateFailed is terminal: the operation failed.
	StateFailed
	// StateCancelled is terminal: the operation was cancelled on the backend.
	StateCancelled
)

// Terminal reports whether the operation will not transition further.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status is one observation of an operation.
type Status struct {
	State State

	// Detail is the backend's state change reason, set mostly on failure.
	Detail string

	// ResultLocation is where the backend put the result of a succeeded
	// operation, for example an S3 URI.
	ResultLocation string
}

// StatusSource reports the status of asynchronous operations.
type StatusSource interface {
	// Status returns the current status of the operation. Errors are
	// retried by the Waiter if IsRetryable reports so.
	Status(ctx context.Context, operationID string) (Status, error)
}

// StatusSourceFunc is a function adapter for StatusSource.
type StatusSourceFunc func(ctx context.Context, operationID string) (Status, error)

// Status implements StatusSource.
func (f StatusSourceFunc) Status(ctx context.Context, operationID string) (Status, error) {
	return f(ctx, operationID)
}

// Canceller is implemented by status sources that can cancel operations.
type Canceller interface {
	Cancel(ctx context.Context, operationID string) error
}

// Starter starts an asynchronous operation and returns its id.
type Starter interface {
	Start(ctx context.Context) (operationID string, err error)
}

// StarterFunc is a function adapter for Starter.
type StarterFunc func(ctx context.Context) (string, error)

// Start implements Starter.
func (f StarterFunc) Start(ctx context.Context) (string, error) {
	return f(ctx)
}

// Handle describes one wait on an operation.
type Handle struct {
	OperationID string
	StartedAt   time.Time

	// Deadline is when the wait gives up. Zero means no deadline; the wait
	// then ends only with a terminal state or the context.
	Deadline time.Time

	PollInterval time.Duration
}

// Completion describes a succeeded operation.
type Completion struct {
	OperationID    string
	ResultLocation string
	Detail         string
	Elapsed        time.Duration
	Polls          int
}

// Waiter polls a StatusSource at a fixed interval until an operation
// reaches a terminal state or the wait times out.
//
// A timeout only stops local polling; the remote operation keeps running.
// Use Cancel to stop it explicitly.
type Waiter struct {
	source StatusSource
	config *waitConfig
}

// NewWaiter creates a Waiter for source.
// Panics if source is nil.
func NewWaiter(source StatusSource, opts ...WaitOption) *Waiter {
	if source == nil {
		panic("conveyor: status source cannot be nil")
	}
	config := defaultWaitConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &Waiter{
		source: source,
		config: config,
	}
}

// NewHandle returns a handle for operationID starting now.
// Panics if pollInterval <= 0 or timeout < 0. A zero timeout means no
// deadline.
func (w *Waiter) NewHandle(operationID string, timeout, pollInterval time.Duration) Handle {
	if pollInterval <= 0 {
		panic("conveyor: poll interval must be positive")
	}
	if timeout < 0 {
		panic("conveyor: timeout cannot be negative")
	}
	now := w.config.clock.Now()
	h := Handle{
		OperationID:  operationID,
		StartedAt:    now,
		PollInterval: pollInterval,
	}
	if timeout > 0 {
		h.Deadline = now.Add(timeout)
	}
	return h
}

// Wait polls operationID every pollInterval until it is terminal or
// timeout elapses.
//
// It returns a Completion when the operation succeeded, an *OperationError
// when it failed or was cancelled, and a *TimeoutError when timeout elapsed
// first. Context cancellation stops polling and returns ctx.Err().
func (w *Waiter) Wait(ctx context.Context, operationID string, timeout, pollInterval time.Duration) (Completion, error) {
	return w.WaitHandle(ctx, w.NewHandle(operationID, timeout, pollInterval))
}

// WaitHandle is like Wait for a prepared handle.
func (w *Waiter) WaitHandle(ctx context.Context, h Handle) (Completion, error) {
	if h.PollInterval <= 0 {
		panic("conveyor: poll interval must be positive")
	}
	cfg := w.config
	last := StateSubmitted
	polls := 0

	for {
		st, err := w.source.Status(ctx, h.OperationID)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return w.fail(h, "error", ctx.Err())
			}
			if !IsRetryable(err) {
				cfg.logger.Error("failed to poll operation", "operation", h.OperationID, "error", err)
				cfg.metrics.ErrorOccurred("poll")
				return w.fail(h, "error", fmt.Errorf("conveyor: polling operation %s: %w", h.OperationID, err))
			}
			cfg.logger.Warn("transient error polling operation", "operation", h.OperationID, "error", err)
			cfg.metrics.ErrorOccurred("poll_retryable")
		} else {
			cfg.metrics.OperationPolled(st.State)
			cfg.logger.Debug("polled operation", "operation", h.OperationID, "state", st.State, "poll", polls)
			last = st.State
			if st.State.Terminal() {
				return w.finish(h, st, polls)
			}
		}

		now := cfg.clock.Now()
		if w.expired(h, now) {
			return w.timeout(h, last, polls)
		}
		sleep := h.PollInterval
		if !h.Deadline.IsZero() {
			if remaining := h.Deadline.Sub(now); remaining < sleep {
				sleep = remaining
			}
		}

		select {
		case <-ctx.Done():
			return w.fail(h, "error", ctx.Err())
		case <-cfg.clock.After(sleep):
		}

		if w.expired(h, cfg.clock.Now()) {
			return w.timeout(h, last, polls)
		}
	}
}

// Cancel asks the backend to cancel operationID. It returns
// ErrCancelUnsupported if the status source does not implement Canceller.
func (w *Waiter) Cancel(ctx context.Context, operationID string) error {
	c, ok := w.source.(Canceller)
	if !ok {
		return ErrCancelUnsupported
	}
	w.config.logger.Info("cancelling operation", "operation", operationID)
	return c.Cancel(ctx, operationID)
}

// StartAndWait starts an operation with starter and waits for it.
func (w *Waiter) StartAndWait(ctx context.Context, starter Starter, timeout, pollInterval time.Duration) (Completion, error) {
	id, err := starter.Start(ctx)
	if err != nil {
		w.config.metrics.ErrorOccurred("start")
		return Completion{}, fmt.Errorf("conveyor: starting operation: %w", err)
	}
	w.config.logger.Debug("started operation", "operation", id)
	return w.Wait(ctx, id, timeout, pollInterval)
}

func (w *Waiter) expired(h Handle, now time.Time) bool {
	return !h.Deadline.IsZero() && !now.Before(h.Deadline)
}

func (w *Waiter) finish(h Handle, st Status, polls int) (Completion, error) {
	elapsed := w.config.clock.Now().Sub(h.StartedAt)
	w.config.metrics.OperationFinished(st.State.String(), elapsed)

	if st.State == StateSucceeded {
		w.config.logger.Info("operation succeeded", "operation", h.OperationID, "elapsed", elapsed, "polls", polls)
		return Completion{
			OperationID:    h.OperationID,
			ResultLocation: st.ResultLocation,
			Detail:         st.Detail,
			Elapsed:        elapsed,
			Polls:          polls,
		}, nil
	}

	w.config.logger.Warn("operation did not succeed",
		"operation", h.OperationID,
		"state", st.State,
		"detail", st.Detail,
	)
	return Completion{}, &OperationError{OperationID: h.OperationID, State: st.State, Detail: st.Detail}
}

func (w *Waiter) timeout(h Handle, last State, polls int) (Completion, error) {
	elapsed := w.config.clock.Now().Sub(h.StartedAt)
	w.config.metrics.OperationFinished("timed_out", elapsed)
	w.config.logger.Warn("timed out waiting for operation",
		"operation", h.OperationID,
		"state", last,
		"elapsed", elapsed,
		"polls", polls,
	)
	return Completion{}, &TimeoutError{OperationID: h.OperationID, LastState: last, Elapsed: elapsed, Polls: polls}
}

func (w *Waiter) fail(h Handle, result string, err error) (Completion, error) {
	w.config.metrics.OperationFinished(result, w.config.clock.Now().Sub(h.StartedAt))
	return Completion{}, err
}
