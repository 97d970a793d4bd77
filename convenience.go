package conveyor

import (
	"context"
	"errors"
	"time"
)

// SubmitAll is the simplest way to push an arbitrary number of entries. It
// chunks entries into batches that satisfy limits, submits each batch with
// s and returns one Outcome per entry, in input order.
//
// Entries are added as is; no keys are generated. An entry larger than
// limits.MaxEntryBytes gets a CodeEntryTooLarge outcome and is never
// submitted. If a batch is aborted, entries in later batches get
// CodeAborted outcomes and the error is returned.
//
// Example:
//
//	outcomes, err := conveyor.SubmitAll(ctx, submitter, kinesis.Limits, entries)
func SubmitAll(ctx context.Context, s *Submitter, limits Limits, entries []Entry) ([]Outcome, error) {
	outcomes := make([]Outcome, len(entries))
	builder := NewBatchBuilder(limits, WithKeyAssigner(nil))
	var indexes []int
	var abortErr error

	flush := func() {
		if builder.IsEmpty() {
			return
		}
		batch := builder.Build()
		idx := indexes
		indexes = nil
		if abortErr != nil {
			for _, i := range idx {
				outcomes[i] = Outcome{Failure: &Failure{Code: CodeAborted, Message: abortErr.Error()}}
			}
			return
		}
		res, err := s.SubmitBatch(ctx, batch)
		for j, i := range idx {
			if j < len(res) {
				outcomes[i] = res[j]
			} else {
				outcomes[i] = Outcome{Failure: &Failure{Code: CodeAborted, Message: err.Error()}}
			}
		}
		if err != nil {
			abortErr = err
		}
	}

	for i, e := range entries {
		err := builder.Add(e)
		if IsBatchFull(err) {
			flush()
			err = builder.Add(e)
		}
		if err != nil {
			outcomes[i] = Outcome{Failure: &Failure{Code: CodeEntryTooLarge, Message: err.Error()}}
			continue
		}
		indexes = append(indexes, i)
	}
	flush()

	return outcomes, abortErr
}

// SubmitPayloads is like SubmitAll for raw payloads. Each payload gets a key
// from keys; pass nil for keyless backends.
//
// Example:
//
//	outcomes, err := conveyor.SubmitPayloads(ctx, submitter, kinesis.Limits, conveyor.UUIDKeys{}, payloads)
func SubmitPayloads(ctx context.Context, s *Submitter, limits Limits, keys KeyAssigner, payloads [][]byte) ([]Outcome, error) {
	entries := make([]Entry, len(payloads))
	for i, p := range payloads {
		entries[i] = Entry{Payload: p}
		if keys != nil {
			entries[i].Key = keys.GenerateKey()
		}
	}
	return SubmitAll(ctx, s, limits, entries)
}

// ResilientBackend wraps backend with production-ready resilience: a circuit
// breaker in front of a per-call timeout.
//
// Order: CircuitBreaker -> Timeout -> YourBackend
//
// Example:
//
//	backend := conveyor.ResilientBackend(kinesis.NewBackend(client, stream), 10*time.Second)
//	submitter := conveyor.NewSubmitter(backend)
func ResilientBackend(backend Backend, callTimeout time.Duration) Backend {
	return NewCircuitBreakerBackend(
		NewTimeoutBackend(backend, callTimeout),
		DefaultCircuitBreakerConfig(),
	)
}

// Failed returns the indexes of outcomes that are failures, in order.
func Failed(outcomes []Outcome) []int {
	var idx []int
	for i, o := range outcomes {
		if !o.OK() {
			idx = append(idx, i)
		}
	}
	return idx
}

// IsCode reports whether err is a *Failure with the given code.
func IsCode(err error, code string) bool {
	var f *Failure
	return errors.As(err, &f) && f.Code == code
}
