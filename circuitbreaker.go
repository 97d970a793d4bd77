package conveyor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed passes every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown has passed.
	CircuitOpen
	// CircuitHalfOpen lets one probe call through at a time.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is matched by *CircuitOpenError.
var ErrCircuitOpen = errors.New("conveyor: circuit breaker is open")

// CircuitOpenError is returned instead of calling the backend while the
// circuit is open. It matches ErrCircuitOpen and ErrUnavailable, so a
// Submitter spends a retry round on it rather than aborting.
type CircuitOpenError struct {
	// RetryAfter is the time left until the breaker admits a probe.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("conveyor: circuit breaker is open, retry after %s", e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen || target == ErrUnavailable
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// TripAfter is the number of consecutive unhealthy rounds that opens
	// the circuit.
	TripAfter int

	// ProbesToClose is the number of healthy probe rounds needed in the
	// half-open state to close the circuit again.
	ProbesToClose int

	// Cooldown is how long the circuit stays open before admitting a probe.
	Cooldown time.Duration

	// OnStateChange, if set, is called under the breaker lock on every
	// transition. It must not call back into the breaker.
	OnStateChange func(from, to CircuitState)

	// Clock is the time source. Nil means the system clock.
	Clock Clock
}

// DefaultCircuitBreakerConfig opens after 5 unhealthy rounds and probes
// again after 30 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		TripAfter:     5,
		ProbesToClose: 2,
		Cooldown:      30 * time.Second,
	}
}

// CircuitBreaker tracks backend health across submission rounds.
//
// Only backend trouble counts against it: throttling, unavailability and
// retryable per-entry failures. Permanently rejected entries say nothing
// about the backend and are ignored.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  Clock

	mu       sync.Mutex
	state    CircuitState
	strikes  int
	probes   int
	probing  bool
	openedAt time.Time
}

// NewCircuitBreaker creates a closed CircuitBreaker.
// Panics if TripAfter or ProbesToClose is not positive or Cooldown is
// negative.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.TripAfter <= 0 {
		panic("conveyor: trip threshold must be positive")
	}
	if config.ProbesToClose <= 0 {
		panic("conveyor: probe count must be positive")
	}
	if config.Cooldown < 0 {
		panic("conveyor: cooldown cannot be negative")
	}
	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &CircuitBreaker{config: config, clock: clock}
}

// State returns the current state. An open circuit whose cooldown has
// passed still reports CircuitOpen until the next Acquire.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Acquire reserves a call. It returns a *CircuitOpenError while the
// circuit is open or while a half-open probe is already in flight. Every
// successful Acquire must be followed by exactly one Report.
func (cb *CircuitBreaker) Acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		wait := cb.config.Cooldown - cb.clock.Now().Sub(cb.openedAt)
		if wait > 0 {
			return &CircuitOpenError{RetryAfter: wait}
		}
		cb.transition(CircuitHalfOpen)
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return &CircuitOpenError{}
		}
		cb.probing = true
	}
	return nil
}

// Report records the health of a call admitted by Acquire.
func (cb *CircuitBreaker) Report(healthy bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		if healthy {
			cb.strikes = 0
			return
		}
		cb.strikes++
		if cb.strikes >= cb.config.TripAfter {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.probing = false
		if !healthy {
			cb.open()
			return
		}
		cb.probes++
		if cb.probes >= cb.config.ProbesToClose {
			cb.transition(CircuitClosed)
		}
	}
}

// release returns a reservation without judging the backend, for calls the
// caller abandoned.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(CircuitClosed)
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.clock.Now()
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.strikes = 0
	cb.probes = 0
	cb.probing = false
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// healthyRound reports whether a Submit round says the backend is fine:
// no retryable call error and no more than half of the entries failing
// with a retryable code.
func healthyRound(results []RawResult, err error) bool {
	if err != nil {
		return !IsRetryable(err)
	}
	transient := 0
	for _, r := range results {
		if !r.OK && r.Retryable {
			transient++
		}
	}
	return transient*2 <= len(results)
}

// CircuitBreakerBackend guards a Backend with a CircuitBreaker.
type CircuitBreakerBackend struct {
	backend Backend
	cb      *CircuitBreaker
}

// NewCircuitBreakerBackend wraps backend with a new CircuitBreaker.
// Panics if backend is nil.
func NewCircuitBreakerBackend(backend Backend, config CircuitBreakerConfig) *CircuitBreakerBackend {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	return &CircuitBreakerBackend{backend: backend, cb: NewCircuitBreaker(config)}
}

// CircuitBreakerMiddleware returns a Middleware that shares cb between
// every backend it wraps.
func CircuitBreakerMiddleware(cb *CircuitBreaker) Middleware {
	return func(next Backend) Backend {
		return &CircuitBreakerBackend{backend: next, cb: cb}
	}
}

// Submit implements Backend.
func (c *CircuitBreakerBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	if err := c.cb.Acquire(); err != nil {
		return nil, err
	}
	results, err := c.backend.Submit(ctx, entries)
	if ctx.Err() != nil && err != nil {
		c.cb.release()
		return results, err
	}
	c.cb.Report(healthyRound(results, err))
	return results, err
}

// CircuitBreaker returns the breaker guarding the backend.
func (c *CircuitBreakerBackend) CircuitBreaker() *CircuitBreaker {
	return c.cb
}

// CircuitBreakerStatusSource guards a StatusSource with a CircuitBreaker.
// A retryable status error is unhealthy; terminal states and permanent
// errors are healthy.
type CircuitBreakerStatusSource struct {
	source StatusSource
	cb     *CircuitBreaker
}

// NewCircuitBreakerStatusSource wraps source with cb.
// Panics if source or cb is nil.
func NewCircuitBreakerStatusSource(source StatusSource, cb *CircuitBreaker) *CircuitBreakerStatusSource {
	if source == nil {
		panic("conveyor: status source cannot be nil")
	}
	if cb == nil {
		panic("conveyor: circuit breaker cannot be nil")
	}
	return &CircuitBreakerStatusSource{source: source, cb: cb}
}

// Status implements StatusSource.
func (c *CircuitBreakerStatusSource) Status(ctx context.Context, operationID string) (Status, error) {
	if err := c.cb.Acquire(); err != nil {
		return Status{}, err
	}
	st, err := c.source.Status(ctx, operationID)
	c.cb.Report(err == nil || !IsRetryable(err))
	return st, err
}

// Cancel forwards to the wrapped source when it implements Canceller.
func (c *CircuitBreakerStatusSource) Cancel(ctx context.Context, operationID string) error {
	canceller, ok := c.source.(Canceller)
	if !ok {
		return ErrCancelUnsupported
	}
	return canceller.Cancel(ctx, operationID)
}
