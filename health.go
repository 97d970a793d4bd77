package conveyor

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the health of a backend as seen from its submission rounds.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Round summarizes one Submit call.
type Round struct {
	// Entries is the number of entries sent.
	Entries int
	// Accepted entries were delivered.
	Accepted int
	// Transient entries failed with a retryable code.
	Transient int
	// Err is the call-level error, if any. All entries count as transient
	// when it is retryable.
	Err error
	At  time.Time
}

// FailureRatio is the share of entries in the round that did not get
// through for reasons the backend is responsible for.
func (r Round) FailureRatio() float64 {
	if r.Entries == 0 {
		return 0
	}
	return float64(r.Transient) / float64(r.Entries)
}

func (r Round) healthy() bool {
	if r.Err != nil {
		return !IsRetryable(r.Err)
	}
	return r.Transient*2 <= r.Entries
}

// HealthReport is a snapshot of a HealthCheck.
type HealthReport struct {
	Status HealthStatus

	// Streak is the number of consecutive unhealthy rounds.
	Streak int

	// LastRound is the most recent round; LastTrouble the most recent
	// unhealthy one.
	LastRound   Round
	LastTrouble Round

	Delivered int64
	Transient int64
	Rejected  int64
}

// HealthCheck grades a backend by its consecutive unhealthy rounds. A round
// is unhealthy when the call failed with a retryable error or more than
// half of its entries came back with a retryable failure. Permanent
// rejections count toward Rejected but never degrade the backend.
type HealthCheck struct {
	degradedAfter  int
	unhealthyAfter int
	clock          Clock

	mu     sync.RWMutex
	report HealthReport
}

// NewHealthCheck creates a HealthCheck that reports degraded after
// degradedAfter unhealthy rounds in a row and unhealthy after
// unhealthyAfter. Non-positive values default to 3 and 10.
func NewHealthCheck(degradedAfter, unhealthyAfter int) *HealthCheck {
	if degradedAfter <= 0 {
		degradedAfter = 3
	}
	if unhealthyAfter <= 0 {
		unhealthyAfter = 10
	}
	return &HealthCheck{
		degradedAfter:  degradedAfter,
		unhealthyAfter: unhealthyAfter,
		clock:          SystemClock(),
		report:         HealthReport{Status: HealthStatusHealthy},
	}
}

// Observe records a round. A zero At is set to the current time.
func (h *HealthCheck) Observe(r Round) {
	if r.At.IsZero() {
		r.At = h.clock.Now()
	}
	if r.Err != nil && IsRetryable(r.Err) {
		r.Transient = r.Entries - r.Accepted
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rep := &h.report
	rep.LastRound = r
	rep.Delivered += int64(r.Accepted)
	rep.Transient += int64(r.Transient)
	if r.Err == nil {
		rep.Rejected += int64(r.Entries - r.Accepted - r.Transient)
	}

	if r.healthy() {
		rep.Streak = 0
	} else {
		rep.Streak++
		rep.LastTrouble = r
	}
	switch {
	case rep.Streak >= h.unhealthyAfter:
		rep.Status = HealthStatusUnhealthy
	case rep.Streak >= h.degradedAfter:
		rep.Status = HealthStatusDegraded
	default:
		rep.Status = HealthStatusHealthy
	}
}

func (h *HealthCheck) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report.Status
}

func (h *HealthCheck) IsHealthy() bool {
	return h.Status() == HealthStatusHealthy
}

// Report returns a snapshot of the check.
func (h *HealthCheck) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report
}

// HealthCheckBackend feeds every Submit round of a backend to a HealthCheck.
type HealthCheckBackend struct {
	backend Backend
	health  *HealthCheck
}

// NewHealthCheckBackend wraps backend. A nil health gets default thresholds.
func NewHealthCheckBackend(backend Backend, health *HealthCheck) *HealthCheckBackend {
	if backend == nil {
		panic("conveyor: backend cannot be nil")
	}
	if health == nil {
		health = NewHealthCheck(0, 0)
	}
	return &HealthCheckBackend{backend: backend, health: health}
}

// Submit implements Backend.
func (h *HealthCheckBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	results, err := h.backend.Submit(ctx, entries)

	r := Round{Entries: len(entries), Err: err}
	for _, res := range results {
		switch {
		case res.OK:
			r.Accepted++
		case res.Retryable:
			r.Transient++
		}
	}
	h.health.Observe(r)
	return results, err
}

// Health returns the check fed by this backend.
func (h *HealthCheckBackend) Health() *HealthCheck {
	return h.health
}

// HealthCheckMiddleware feeds every wrapped backend's rounds to health.
func HealthCheckMiddleware(health *HealthCheck) Middleware {
	return func(backend Backend) Backend {
		return NewHealthCheckBackend(backend, health)
	}
}
