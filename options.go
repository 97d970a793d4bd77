package conveyor

import (
	"log/slog"
	"time"
)

// SubmitOption configures a Submitter.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	maxAttempts int
	backoff     Backoff
	maxElapsed  time.Duration
	limits      *Limits
	clock       Clock
	logger      *slog.Logger
	metrics     MetricsHandler
	deadLetter  DeadLetterQueue
	validators  []Validator
}

// DefaultMaxAttempts is the number of submit rounds used when
// WithMaxAttempts is not given.
const DefaultMaxAttempts = 3

func defaultSubmitConfig() *submitConfig {
	return &submitConfig{
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff(),
		clock:       SystemClock(),
		logger:      slog.Default(),
		metrics:     noopMetrics{},
	}
}

// WithMaxAttempts sets the maximum number of submit rounds, including the
// first. Default: DefaultMaxAttempts. Panics if n <= 0.
func WithMaxAttempts(n int) SubmitOption {
	if n <= 0 {
		panic("conveyor: max attempts must be positive")
	}
	return func(c *submitConfig) {
		c.maxAttempts = n
	}
}

// WithBackoff sets the delay policy between rounds.
// Default: DefaultBackoff(). Panics if a delay is negative.
func WithBackoff(b Backoff) SubmitOption {
	if b.BaseDelay < 0 || b.MaxDelay < 0 {
		panic("conveyor: backoff delays cannot be negative")
	}
	return func(c *submitConfig) {
		c.backoff = b
	}
}

// WithMaxElapsed bounds the wall-clock time spent on retries. No new round
// starts once d has elapsed since SubmitBatch was called; pending entries
// become RetriesExhausted. Default: 0, attempts alone bound retries.
// Panics if d < 0.
func WithMaxElapsed(d time.Duration) SubmitOption {
	if d < 0 {
		panic("conveyor: max elapsed cannot be negative")
	}
	return func(c *submitConfig) {
		c.maxElapsed = d
	}
}

// WithLimits makes SubmitBatch reject batches that violate l with
// ErrInvalidBatch before calling the backend. Panics if l is invalid.
func WithLimits(l Limits) SubmitOption {
	if err := l.Validate(); err != nil {
		panic(err.Error())
	}
	return func(c *submitConfig) {
		c.limits = &l
	}
}

// WithClock sets the clock used for backoff sleeps.
// If nil is passed, uses the system clock.
func WithClock(clock Clock) SubmitOption {
	return func(c *submitConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSubmitLogger sets a custom logger.
// Default: slog.Default(). If nil is passed, uses slog.Default().
func WithSubmitLogger(logger *slog.Logger) SubmitOption {
	return func(c *submitConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSubmitMetrics sets a metrics handler for observability.
// If nil is passed, uses a no-op handler.
func WithSubmitMetrics(handler MetricsHandler) SubmitOption {
	return func(c *submitConfig) {
		if handler != nil {
			c.metrics = handler
		}
	}
}

// WithDeadLetter sends every entry that ends in a failure to dlq.
func WithDeadLetter(dlq DeadLetterQueue) SubmitOption {
	return func(c *submitConfig) {
		c.deadLetter = dlq
	}
}

// WithValidators runs validators on each entry before the first round.
// Entries failing validation are never submitted and get a
// ValidationError outcome.
func WithValidators(validators ...Validator) SubmitOption {
	return func(c *submitConfig) {
		c.validators = append(c.validators, validators...)
	}
}

// WaitOption configures a Waiter.
type WaitOption func(*waitConfig)

type waitConfig struct {
	clock   Clock
	logger  *slog.Logger
	metrics MetricsHandler
}

func defaultWaitConfig() *waitConfig {
	return &waitConfig{
		clock:   SystemClock(),
		logger:  slog.Default(),
		metrics: noopMetrics{},
	}
}

// WithWaitClock sets the clock used for polling sleeps and deadlines.
// If nil is passed, uses the system clock.
func WithWaitClock(clock Clock) WaitOption {
	return func(c *waitConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithWaitLogger sets a custom logger for the waiter.
// If nil is passed, uses slog.Default().
func WithWaitLogger(logger *slog.Logger) WaitOption {
	return func(c *waitConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWaitMetrics sets a metrics handler for the waiter.
// If nil is passed, uses a no-op handler.
func WithWaitMetrics(handler MetricsHandler) WaitOption {
	return func(c *waitConfig) {
		if handler != nil {
			c.metrics = handler
		}
	}
}

// ProducerOption configures a Producer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	workers       int
	bufferSize    int
	flushInterval time.Duration
	keys          KeyAssigner
	logger        *slog.Logger
	onOutcome     OutcomeHandler
	errorHandler  func(error)
}

func defaultProducerConfig() *producerConfig {
	return &producerConfig{
		workers:       1,
		bufferSize:    100,
		flushInterval: time.Second,
		keys:          UUIDKeys{},
		logger:        slog.Default(),
		onOutcome:     func(Entry, Outcome) {},
		errorHandler:  func(error) {},
	}
}

// WithWorkers sets the number of concurrent workers submitting batches.
// Default: 1. Panics if n <= 0.
func WithWorkers(n int) ProducerOption {
	if n <= 0 {
		panic("conveyor: workers must be positive")
	}
	return func(c *producerConfig) {
		c.workers = n
	}
}

// WithBufferSize sets the size of the intake channel.
// Default: 100. Panics if size <= 0.
func WithBufferSize(size int) ProducerOption {
	if size <= 0 {
		panic("conveyor: buffer size must be positive")
	}
	return func(c *producerConfig) {
		c.bufferSize = size
	}
}

// WithFlushInterval sets how long a partially filled batch may wait before
// it is submitted. Default: 1 second. Panics if d <= 0.
func WithFlushInterval(d time.Duration) ProducerOption {
	if d <= 0 {
		panic("conveyor: flush interval must be positive")
	}
	return func(c *producerConfig) {
		c.flushInterval = d
	}
}

// WithProducerKeys sets the KeyAssigner for entries without a key.
// Pass nil for keyless backends.
func WithProducerKeys(k KeyAssigner) ProducerOption {
	return func(c *producerConfig) {
		c.keys = k
	}
}

// WithProducerLogger sets a custom logger for the producer.
// If nil is passed, uses slog.Default().
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(c *producerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOutcomeHandler sets a callback invoked once per entry with its final
// outcome. It is called from worker goroutines.
// If nil is passed, uses a no-op handler.
func WithOutcomeHandler(handler OutcomeHandler) ProducerOption {
	return func(c *producerConfig) {
		if handler != nil {
			c.onOutcome = handler
		}
	}
}

// WithProducerErrorHandler sets a callback for whole-call errors.
// If nil is passed, uses a no-op handler.
func WithProducerErrorHandler(handler func(error)) ProducerOption {
	return func(c *producerConfig) {
		if handler != nil {
			c.errorHandler = handler
		}
	}
}
