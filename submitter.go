package conveyor

import (
	"context"
	"errors"
	"fmt"
)

// Submitter delivers built batches to a Backend, resubmitting entries that
// fail with retryable errors until they succeed or attempts run out.
//
// A Submitter holds no per-call state and is safe for concurrent use as
// long as its Backend is.
type Submitter struct {
	backend Backend
	config  *submitConfig
}

// NewSubmitter creates a Submitter for backend.
// Panics if backend is nil.
func NewSubmitter(backend Backend, opts ...SubmitOption) *Submitter {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	config := defaultSubmitConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &Submitter{
		backend: backend,
		config:  config,
	}
}

// pendingEntry ties an entry awaiting resubmission to its position in the
// original batch.
type pendingEntry struct {
	index    int
	entry    Entry
	attempts int
	last     *Failure
}

// SubmitBatch submits batch and returns one Outcome per entry, in the
// order of batch.Entries, however many rounds it took.
//
// Each round submits every pending entry in one backend call. Accepted
// entries are recorded and never submitted again. Entries failing with a
// non-retryable error are recorded immediately. Entries failing with a
// retryable error stay pending for the next round, after a Backoff delay.
// Entries still pending when attempts run out fail with RetriesExhausted.
//
// The returned error is non-nil only when the whole call was aborted: a
// non-retryable backend error (*CallError), context cancellation, or a
// batch violating the limits set with WithLimits (ErrInvalidBatch, no
// outcomes). Outcomes are still returned on abort; entries that had not
// reached a verdict fail with code Aborted.
func (s *Submitter) SubmitBatch(ctx context.Context, batch Batch) ([]Outcome, error) {
	cfg := s.config
	if cfg.limits != nil {
		if err := cfg.limits.Check(batch); err != nil {
			cfg.metrics.ErrorOccurred("invalid_batch")
			return nil, err
		}
	}

	outcomes := make([]Outcome, len(batch.Entries))
	pending := make([]pendingEntry, 0, len(batch.Entries))
	for i, e := range batch.Entries {
		if err := validateEntry(e, cfg.validators); err != nil {
			outcomes[i] = Outcome{Failure: &Failure{Code: CodeValidation, Message: err.Error()}}
			continue
		}
		pending = append(pending, pendingEntry{index: i, entry: e})
	}

	start := cfg.clock.Now()

	for attempt := 0; len(pending) > 0 && attempt < cfg.maxAttempts; {
		if attempt > 0 {
			cfg.metrics.RetryRound(attempt, len(pending))
		}

		entries := make([]Entry, len(pending))
		for i, p := range pending {
			entries[i] = p.entry
		}

		cfg.logger.Debug("submitting entries", "count", len(entries), "attempt", attempt)
		cfg.metrics.EntriesSubmitted(len(entries))
		callStart := cfg.clock.Now()
		results, err := s.backend.Submit(ctx, entries)
		cfg.metrics.SubmitDuration(cfg.clock.Now().Sub(callStart))

		for i := range pending {
			pending[i].attempts++
		}

		if err == nil && len(results) != len(entries) {
			err = fmt.Errorf("%w: %d results for %d entries", ErrResultMismatch, len(results), len(entries))
		}

		if err != nil {
			if !IsRetryable(err) || ctx.Err() != nil {
				callErr := &CallError{Attempt: attempt, Pending: len(pending), Err: err}
				cfg.logger.Error("submit aborted", "attempt", attempt, "pending", len(pending), "error", err)
				cfg.metrics.ErrorOccurred("submit")
				s.abort(ctx, batch, outcomes, pending, err)
				return outcomes, callErr
			}
			cfg.logger.Warn("submit call failed, retrying", "attempt", attempt, "pending", len(pending), "error", err)
			cfg.metrics.ErrorOccurred("submit_retryable")
			f := callFailure(err)
			for i := range pending {
				pending[i].last = f
			}
		} else {
			next := pending[:0]
			for i, r := range results {
				p := pending[i]
				switch {
				case r.OK:
					outcomes[p.index] = Outcome{ID: r.ID, Attempts: p.attempts}
				case r.Retryable:
					p.last = &Failure{Code: r.Code, Message: r.Message, Retryable: true}
					next = append(next, p)
				default:
					outcomes[p.index] = Outcome{
						Failure:  &Failure{Code: r.Code, Message: r.Message},
						Attempts: p.attempts,
					}
				}
			}
			if len(next) > 0 {
				cfg.logger.Warn("entries failed with retryable errors",
					"attempt", attempt,
					"retrying", len(next),
					"submitted", len(pending),
				)
			}
			pending = next
		}

		attempt++
		if len(pending) == 0 || attempt >= cfg.maxAttempts {
			break
		}

		delay := cfg.backoff.Delay(attempt - 1)
		if cfg.maxElapsed > 0 && cfg.clock.Now().Sub(start)+delay > cfg.maxElapsed {
			cfg.logger.Warn("retry time budget spent", "elapsed", cfg.clock.Now().Sub(start), "pending", len(pending))
			break
		}
		select {
		case <-ctx.Done():
			s.abort(ctx, batch, outcomes, pending, ctx.Err())
			return outcomes, ctx.Err()
		case <-cfg.clock.After(delay):
		}
	}

	for _, p := range pending {
		outcomes[p.index] = Outcome{Failure: exhausted(p), Attempts: p.attempts}
	}

	s.finish(ctx, batch, outcomes)
	return outcomes, nil
}

// abort records pending entries as aborted and reports the outcomes.
func (s *Submitter) abort(ctx context.Context, batch Batch, outcomes []Outcome, pending []pendingEntry, err error) {
	for _, p := range pending {
		outcomes[p.index] = Outcome{
			Failure:  &Failure{Code: CodeAborted, Message: err.Error()},
			Attempts: p.attempts,
		}
	}
	s.finish(ctx, batch, outcomes)
}

func (s *Submitter) finish(ctx context.Context, batch Batch, outcomes []Outcome) {
	delivered, failed := CountOutcomes(outcomes)
	s.config.metrics.OutcomesRecorded(delivered, failed)
	if failed > 0 {
		s.config.logger.Info("batch submitted with failures", "delivered", delivered, "failed", failed)
	}
	if s.config.deadLetter == nil || failed == 0 {
		return
	}

	// Abort paths arrive here with a done context.
	dlqCtx := context.WithoutCancel(ctx)
	now := s.config.clock.Now()
	for i, o := range outcomes {
		if o.OK() {
			continue
		}
		rec := FailedEntry{
			Entry:    batch.Entries[i],
			Failure:  *o.Failure,
			Attempts: o.Attempts,
			FailedAt: now,
		}
		if err := s.config.deadLetter.Send(dlqCtx, rec); err != nil {
			s.config.logger.Error("failed to dead-letter entry", "index", i, "error", err)
			s.config.metrics.ErrorOccurred("dead_letter")
		}
	}
}

func callFailure(err error) *Failure {
	code := CodeUnavailable
	if errors.Is(err, ErrThrottled) {
		code = CodeThrottled
	}
	return &Failure{Code: code, Message: err.Error(), Retryable: true}
}

func exhausted(p pendingEntry) *Failure {
	msg := fmt.Sprintf("gave up after %d attempts", p.attempts)
	if p.last != nil {
		msg += ": last error " + p.last.Code
		if p.last.Message != "" {
			msg += ": " + p.last.Message
		}
	}
	return &Failure{Code: CodeRetriesExhausted, Message: msg}
}
