package conveyor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEntryTooLarge is returned when a single entry exceeds the per-entry
	// size limit. The entry is rejected permanently; split or discard it.
	ErrEntryTooLarge = errors.New("conveyor: entry too large")

	// ErrBatchFull is returned when adding an entry would exceed the batch
	// size or count limit. Build and submit the current batch, then add the
	// entry again.
	ErrBatchFull = errors.New("conveyor: batch full")

	// ErrInvalidBatch is returned when a batch passed to SubmitBatch violates
	// the configured limits. BatchBuilder never produces such a batch.
	ErrInvalidBatch = errors.New("conveyor: batch violates limits")

	// ErrResultMismatch is returned when a backend reports a different
	// number of results than entries submitted.
	ErrResultMismatch = errors.New("conveyor: backend result count mismatch")

	// ErrThrottled marks a call-level error as throttling. Errors wrapping it
	// are retried by the Submitter.
	ErrThrottled = errors.New("conveyor: throttled")

	// ErrUnavailable marks a call-level error as transient backend
	// unavailability. Errors wrapping it are retried by the Submitter.
	ErrUnavailable = errors.New("conveyor: backend unavailable")

	// ErrTimedOut is returned by Waiter when the operation did not reach a
	// terminal state before the deadline. The remote operation is not
	// cancelled.
	ErrTimedOut = errors.New("conveyor: operation timed out")

	// ErrOperationFailed is returned by Waiter when the operation failed.
	ErrOperationFailed = errors.New("conveyor: operation failed")

	// ErrOperationCancelled is returned by Waiter when the operation was
	// cancelled on the backend.
	ErrOperationCancelled = errors.New("conveyor: operation cancelled")

	// ErrCancelUnsupported is returned by Waiter.Cancel when the status
	// source cannot cancel operations.
	ErrCancelUnsupported = errors.New("conveyor: cancel not supported")

	// ErrProducerClosed is returned when entries are put into a closed
	// Producer.
	ErrProducerClosed = errors.New("conveyor: producer closed")
)

// LimitError describes why an entry was rejected by a BatchBuilder.
// It wraps either ErrEntryTooLarge or ErrBatchFull.
type LimitError struct {
	Err error

	// Size is the size of the rejected entry in bytes.
	Size int

	// Limit is the limit that was hit: bytes for size limits, entries for
	// the count limit.
	Limit int

	// Total and Count describe the builder state at rejection time.
	Total int
	Count int
}

func (e *LimitError) Error() string {
	if errors.Is(e.Err, ErrEntryTooLarge) {
		return fmt.Sprintf("%v: size %d exceeds limit %d", e.Err, e.Size, e.Limit)
	}
	return fmt.Sprintf("%v: %d entries, %d+%d bytes, limit %d", e.Err, e.Count, e.Total, e.Size, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

// CallError wraps a whole-call failure returned by a Backend.
type CallError struct {
	// Attempt is the 0-indexed round in which the call failed.
	Attempt int

	// Pending is the number of entries in the failed call.
	Pending int

	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("conveyor: submit of %d entries failed on attempt %d: %v", e.Pending, e.Attempt, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// OperationError is returned by Waiter when an operation reached a terminal
// state other than success. It matches ErrOperationFailed or
// ErrOperationCancelled with errors.Is.
type OperationError struct {
	OperationID string
	State       State

	// Detail is the backend-provided failure reason, if any.
	Detail string
}

func (e *OperationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("conveyor: operation %s %s", e.OperationID, e.State)
	}
	return fmt.Sprintf("conveyor: operation %s %s: %s", e.OperationID, e.State, e.Detail)
}

func (e *OperationError) Is(target error) bool {
	switch target {
	case ErrOperationFailed:
		return e.State == StateFailed
	case ErrOperationCancelled:
		return e.State == StateCancelled
	}
	return false
}

// TimeoutError is returned by Waiter when the deadline passed before the
// operation reached a terminal state. It matches ErrTimedOut.
type TimeoutError struct {
	OperationID string

	// LastState is the last non-terminal state observed.
	LastState State

	Elapsed time.Duration
	Polls   int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("conveyor: operation %s still %s after %s (%d polls)", e.OperationID, e.LastState, e.Elapsed, e.Polls)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimedOut
}

// IsRetryable reports whether a call-level error is transient. It is true
// for errors wrapping ErrThrottled or ErrUnavailable, and for errors that
// implement Temporary() bool or Retryable() bool returning true.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
