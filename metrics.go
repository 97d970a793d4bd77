package conveyor

import "time"

// MetricsHandler defines the interface for collecting metrics.
// Implement this to integrate with your observability stack; package
// prommetrics provides a Prometheus implementation.
type MetricsHandler interface {
	// EntriesSubmitted is called before each backend call with the number
	// of entries in the call.
	EntriesSubmitted(count int)

	// OutcomesRecorded is called when SubmitBatch returns.
	OutcomesRecorded(delivered, failed int)

	// RetryRound is called before a retry round with its 0-indexed attempt
	// number and the number of entries still pending.
	RetryRound(attempt, pending int)

	// SubmitDuration records the time taken by one backend call.
	SubmitDuration(d time.Duration)

	// OperationPolled is called after each successful status poll.
	OperationPolled(state State)

	// OperationFinished is called when Wait returns. Result is the
	// terminal state name, "timed_out" or "error".
	OperationFinished(result string, elapsed time.Duration)

	// ErrorOccurred is called when an error occurs.
	ErrorOccurred(errType string)
}

// noopMetrics is the default no-op metrics handler.
type noopMetrics struct{}

func (noopMetrics) EntriesSubmitted(int)                    {}
func (noopMetrics) OutcomesRecorded(int, int)               {}
func (noopMetrics) RetryRound(int, int)                     {}
func (noopMetrics) SubmitDuration(time.Duration)            {}
func (noopMetrics) OperationPolled(State)                   {}
func (noopMetrics) OperationFinished(string, time.Duration) {}
func (noopMetrics) ErrorOccurred(string)                    {}

// MetricsFunc provides a simple way to implement MetricsHandler
// using callback functions. Nil callbacks are safely ignored.
type MetricsFunc struct {
	OnEntriesSubmitted  func(count int)
	OnOutcomesRecorded  func(delivered, failed int)
	OnRetryRound        func(attempt, pending int)
	OnSubmitDuration    func(d time.Duration)
	OnOperationPolled   func(state State)
	OnOperationFinished func(result string, elapsed time.Duration)
	OnErrorOccurred     func(errType string)
}

func (m MetricsFunc) EntriesSubmitted(count int) {
	if m.OnEntriesSubmitted != nil {
		m.OnEntriesSubmitted(count)
	}
}

func (m MetricsFunc) OutcomesRecorded(delivered, failed int) {
	if m.OnOutcomesRecorded != nil {
		m.OnOutcomesRecorded(delivered, failed)
	}
}

func (m MetricsFunc) RetryRound(attempt, pending int) {
	if m.OnRetryRound != nil {
		m.OnRetryRound(attempt, pending)
	}
}

func (m MetricsFunc) SubmitDuration(d time.Duration) {
	if m.OnSubmitDuration != nil {
		m.OnSubmitDuration(d)
	}
}

func (m MetricsFunc) OperationPolled(state State) {
	if m.OnOperationPolled != nil {
		m.OnOperationPolled(state)
	}
}

func (m MetricsFunc) OperationFinished(result string, elapsed time.Duration) {
	if m.OnOperationFinished != nil {
		m.OnOperationFinished(result, elapsed)
	}
}

func (m MetricsFunc) ErrorOccurred(errType string) {
	if m.OnErrorOccurred != nil {
		m.OnErrorOccurred(errType)
	}
}
