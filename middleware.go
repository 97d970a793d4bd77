package conveyor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Middleware is a function that wraps a Backend to add behavior.
type Middleware func(Backend) Backend

// Chain combines multiple middlewares into one.
// Middlewares are applied in order: first middleware is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(backend Backend) Backend {
		for i := len(middlewares) - 1; i >= 0; i-- {
			backend = middlewares[i](backend)
		}
		return backend
	}
}

// Hooks are callbacks around backend calls and status polls.
type Hooks struct {
	// BeforeSubmit is called before each backend call.
	BeforeSubmit func(ctx context.Context, entries []Entry)

	// AfterSubmit is called after each backend call.
	AfterSubmit func(ctx context.Context, entries []Entry, results []RawResult, err error)

	// OnResult is called for each entry of a call that returned results.
	OnResult func(ctx context.Context, entry Entry, result RawResult)

	// BeforePoll is called before each status poll.
	BeforePoll func(ctx context.Context, operationID string)

	// AfterPoll is called after each status poll.
	AfterPoll func(ctx context.Context, operationID string, status Status, err error)
}

// HookedBackend wraps a Backend with hooks.
type HookedBackend struct {
	backend Backend
	hooks   *Hooks
}

// NewHookedBackend creates a backend with hook support.
func NewHookedBackend(backend Backend, hooks *Hooks) *HookedBackend {
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &HookedBackend{
		backend: backend,
		hooks:   hooks,
	}
}

// Submit implements Backend with hooks.
func (h *HookedBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	if h.hooks.BeforeSubmit != nil {
		h.hooks.BeforeSubmit(ctx, entries)
	}

	results, err := h.backend.Submit(ctx, entries)

	if h.hooks.AfterSubmit != nil {
		h.hooks.AfterSubmit(ctx, entries, results, err)
	}
	if h.hooks.OnResult != nil && err == nil && len(results) == len(entries) {
		for i, r := range results {
			h.hooks.OnResult(ctx, entries[i], r)
		}
	}

	return results, err
}

// HookedStatusSource wraps a StatusSource with hooks.
type HookedStatusSource struct {
	source StatusSource
	hooks  *Hooks
}

// NewHookedStatusSource creates a status source with hook support.
func NewHookedStatusSource(source StatusSource, hooks *Hooks) *HookedStatusSource {
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &HookedStatusSource{
		source: source,
		hooks:  hooks,
	}
}

// Status implements StatusSource with hooks.
func (h *HookedStatusSource) Status(ctx context.Context, operationID string) (Status, error) {
	if h.hooks.BeforePoll != nil {
		h.hooks.BeforePoll(ctx, operationID)
	}

	st, err := h.source.Status(ctx, operationID)

	if h.hooks.AfterPoll != nil {
		h.hooks.AfterPoll(ctx, operationID, st, err)
	}

	return st, err
}

// Cancel forwards to the wrapped source if it implements Canceller.
func (h *HookedStatusSource) Cancel(ctx context.Context, operationID string) error {
	return cancelVia(ctx, h.source, operationID)
}

// LoggingMiddleware creates a middleware that logs backend calls.
// If logger is nil, uses slog.Default().
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(backend Backend) Backend {
		return BackendFunc(func(ctx context.Context, entries []Entry) ([]RawResult, error) {
			start := time.Now()
			logger.Debug("submitting entries", "count", len(entries))

			results, err := backend.Submit(ctx, entries)

			accepted := 0
			for _, r := range results {
				if r.OK {
					accepted++
				}
			}
			logger.Debug("submitted entries",
				"accepted", accepted,
				"rejected", len(results)-accepted,
				"error", err,
				"duration", time.Since(start),
			)

			return results, err
		})
	}
}

// TimingMiddleware creates a middleware that records call durations.
// Panics if onDuration is nil.
func TimingMiddleware(onDuration func(d time.Duration)) Middleware {
	if onDuration == nil {
		panic("conveyor: onDuration cannot be nil")
	}
	return func(backend Backend) Backend {
		return BackendFunc(func(ctx context.Context, entries []Entry) ([]RawResult, error) {
			start := time.Now()
			results, err := backend.Submit(ctx, entries)
			onDuration(time.Since(start))
			return results, err
		})
	}
}

// PanicError is returned by RecoveryMiddleware when the backend panicked.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("conveyor: backend panicked: %v", e.Recovered)
}

// RecoveryMiddleware creates a middleware that turns backend panics into a
// *PanicError call error. onPanic may be nil.
func RecoveryMiddleware(onPanic func(recovered any)) Middleware {
	return func(backend Backend) Backend {
		return BackendFunc(func(ctx context.Context, entries []Entry) (results []RawResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					}
					results = nil
					err = &PanicError{Recovered: r}
				}
			}()
			return backend.Submit(ctx, entries)
		})
	}
}

// FilterMiddleware creates a middleware that drops entries before they
// reach the backend. Entries that don't match the predicate are reported as
// accepted with an empty ID, so they are never retried.
// Panics if predicate is nil.
func FilterMiddleware(predicate func(Entry) bool) Middleware {
	if predicate == nil {
		panic("conveyor: predicate cannot be nil")
	}
	return func(backend Backend) Backend {
		return BackendFunc(func(ctx context.Context, entries []Entry) ([]RawResult, error) {
			results := make([]RawResult, len(entries))
			var kept []Entry
			var keptIdx []int
			for i, e := range entries {
				if predicate(e) {
					kept = append(kept, e)
					keptIdx = append(keptIdx, i)
				} else {
					results[i] = Accepted("")
				}
			}

			if len(kept) == 0 {
				return results, nil
			}

			res, err := backend.Submit(ctx, kept)
			if err != nil {
				return nil, err
			}
			if len(res) != len(kept) {
				return nil, fmt.Errorf("%w: %d results for %d entries", ErrResultMismatch, len(res), len(kept))
			}
			for j, i := range keptIdx {
				results[i] = res[j]
			}
			return results, nil
		})
	}
}

// TransformMiddleware creates a middleware that transforms entries before
// they reach the backend. Size limits were checked before the transform.
// Panics if transform is nil.
func TransformMiddleware(transform func(Entry) Entry) Middleware {
	if transform == nil {
		panic("conveyor: transform cannot be nil")
	}
	return func(backend Backend) Backend {
		return BackendFunc(func(ctx context.Context, entries []Entry) ([]RawResult, error) {
			transformed := make([]Entry, len(entries))
			for i, e := range entries {
				transformed[i] = transform(e)
			}
			return backend.Submit(ctx, transformed)
		})
	}
}
