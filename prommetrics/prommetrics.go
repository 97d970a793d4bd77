// Package prommetrics implements conveyor.MetricsHandler with Prometheus
// collectors.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erfanmomeniii/conveyor"
)

// Handler records conveyor metrics. Create it with New.
type Handler struct {
	entriesSubmitted  prometheus.Counter
	outcomes          *prometheus.CounterVec
	retryRounds       prometheus.Counter
	retriedEntries    prometheus.Counter
	submitDuration    prometheus.Histogram
	operationPolls    *prometheus.CounterVec
	operationResults  *prometheus.CounterVec
	operationDuration prometheus.Histogram
	errors            *prometheus.CounterVec
}

var _ conveyor.MetricsHandler = (*Handler)(nil)

// New creates a Handler and registers its collectors with reg under
// namespace.
func New(reg prometheus.Registerer, namespace string) (*Handler, error) {
	h := &Handler{
		entriesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_submitted_total",
			Help:      "Entries sent to the backend, counting resubmissions.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_outcomes_total",
			Help:      "Final entry outcomes by result.",
		}, []string{"result"}),
		retryRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_rounds_total",
			Help:      "Submit rounds after the first.",
		}),
		retriedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_entries_total",
			Help:      "Entries resubmitted in retry rounds.",
		}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Duration of backend submit calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		operationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_polls_total",
			Help:      "Status polls by observed state.",
		}, []string{"state"}),
		operationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Finished waits by result.",
		}, []string{"result"}),
		operationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_wait_seconds",
			Help:      "Time spent waiting for operations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by type.",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		h.entriesSubmitted, h.outcomes, h.retryRounds, h.retriedEntries, h.submitDuration,
		h.operationPolls, h.operationResults, h.operationDuration, h.errors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(reg prometheus.Registerer, namespace string) *Handler {
	h, err := New(reg, namespace)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Handler) EntriesSubmitted(count int) {
	h.entriesSubmitted.Add(float64(count))
}

func (h *Handler) OutcomesRecorded(delivered, failed int) {
	h.outcomes.WithLabelValues("delivered").Add(float64(delivered))
	h.outcomes.WithLabelValues("failed").Add(float64(failed))
}

func (h *Handler) RetryRound(attempt, pending int) {
	h.retryRounds.Inc()
	h.retriedEntries.Add(float64(pending))
}

func (h *Handler) SubmitDuration(d time.Duration) {
	h.submitDuration.Observe(d.Seconds())
}

func (h *Handler) OperationPolled(state conveyor.State) {
	h.operationPolls.WithLabelValues(state.String()).Inc()
}

func (h *Handler) OperationFinished(result string, elapsed time.Duration) {
	h.operationResults.WithLabelValues(result).Inc()
	h.operationDuration.Observe(elapsed.Seconds())
}

func (h *Handler) ErrorOccurred(errType string) {
	h.errors.WithLabelValues(errType).Inc()
}
