package conveyor

import (
	"context"
	"errors"
)

// Backend submits entries to a streaming or queueing service.
//
// Example implementations:
//   - Kinesis PutRecords (package kinesis)
//   - SQS SendMessageBatch (package sqs)
//   - Kafka producer (package kafka)
//   - Redis Streams XADD pipeline (package redisstream)
type Backend interface {
	// Submit sends entries in one call and returns exactly one RawResult
	// per entry, in the same order.
	//
	// The distinction between failed results and a returned error:
	//   - Failed results: per-entry failures (throttling, validation).
	//     The rest of the call is unaffected.
	//   - Error: the whole call failed before entries were evaluated
	//     (malformed request, network failure). Use ErrThrottled or
	//     ErrUnavailable, or implement Temporary() bool, to mark it as
	//     transient.
	Submit(ctx context.Context, entries []Entry) ([]RawResult, error)
}

// RawResult is the backend's verdict on one submitted entry.
type RawResult struct {
	// OK is true if the backend accepted the entry.
	OK bool

	// ID is the sequence number or message id assigned on success.
	ID string

	// Code and Message describe a failure.
	Code    string
	Message string

	// Retryable marks a failure as transient.
	Retryable bool
}

// Accepted returns a successful RawResult.
func Accepted(id string) RawResult {
	return RawResult{OK: true, ID: id}
}

// Rejected returns a failed RawResult.
func Rejected(code, message string, retryable bool) RawResult {
	return RawResult{Code: code, Message: message, Retryable: retryable}
}

// BackendFunc is a function adapter for Backend.
type BackendFunc func(ctx context.Context, entries []Entry) ([]RawResult, error)

// Submit implements Backend.
func (f BackendFunc) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	return f(ctx, entries)
}

// SimpleBackend is a convenience wrapper for backends that send entries
// one at a time.
type SimpleBackend struct {
	fn func(ctx context.Context, entry Entry) (string, error)
}

// NewSimpleBackend creates a Backend from a function that sends a single
// entry and returns its id. Errors become failed results; they are
// retryable if IsRetryable reports so. A *Failure error is used as is.
func NewSimpleBackend(fn func(ctx context.Context, entry Entry) (string, error)) *SimpleBackend {
	if fn == nil {
		panic("conveyor: fn cannot be nil")
	}
	return &SimpleBackend{fn: fn}
}

// Submit implements Backend by sending entries one at a time.
func (s *SimpleBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	results := make([]RawResult, len(entries))
	for i, e := range entries {
		id, err := s.fn(ctx, e)
		if err == nil {
			results[i] = Accepted(id)
			continue
		}
		var f *Failure
		if errors.As(err, &f) {
			results[i] = Rejected(f.Code, f.Message, f.Retryable)
			continue
		}
		code := CodeValidation
		if IsRetryable(err) {
			code = CodeUnavailable
			if errors.Is(err, ErrThrottled) {
				code = CodeThrottled
			}
		}
		results[i] = Rejected(code, err.Error(), IsRetryable(err))
	}
	return results, nil
}
