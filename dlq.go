package conveyor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEntryNotFound is returned when an entry cannot be found in the DLQ.
var ErrEntryNotFound = errors.New("conveyor: entry not found in DLQ")

// FailedEntry wraps an entry with failure metadata.
type FailedEntry struct {
	// ID identifies the failed entry in the queue. InMemoryDLQ assigns one
	// if it is empty.
	ID string

	// Entry is the original entry that failed.
	Entry Entry

	// Failure is the terminal failure of the entry.
	Failure Failure

	// Attempts is the number of rounds in which the entry was submitted.
	Attempts int

	// FailedAt is when the entry was given up on.
	FailedAt time.Time
}

// DeadLetterQueue defines the interface for handling permanently failed entries.
type DeadLetterQueue interface {
	// Send adds a failed entry to the dead letter queue.
	Send(ctx context.Context, entry FailedEntry) error

	// Receive retrieves entries from the dead letter queue for reprocessing.
	// Returns up to limit entries. Use limit=0 for all available.
	Receive(ctx context.Context, limit int) ([]FailedEntry, error)

	// Remove deletes an entry from the dead letter queue by ID.
	Remove(ctx context.Context, id string) error

	// Count returns the number of entries in the queue.
	Count(ctx context.Context) (int, error)
}

// InMemoryDLQ is a simple in-memory dead letter queue for testing and development.
// Entries are lost on restart.
type InMemoryDLQ struct {
	mu      sync.RWMutex
	entries []FailedEntry
	maxSize int
	keys    KeyAssigner
}

// NewInMemoryDLQ creates an in-memory dead letter queue.
// Set maxSize to 0 for unlimited size.
func NewInMemoryDLQ(maxSize int) *InMemoryDLQ {
	return &InMemoryDLQ{
		maxSize: maxSize,
		keys:    UUIDKeys{},
	}
}

// Send adds an entry to the queue.
// If the queue is at max capacity, the oldest entry is removed.
func (q *InMemoryDLQ) Send(ctx context.Context, entry FailedEntry) error {
	if entry.ID == "" {
		entry.ID = q.keys.GenerateKey()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
	return nil
}

// Receive retrieves entries from the queue without removing them.
// Returns up to limit entries in FIFO order. Use limit=0 for all entries.
func (q *InMemoryDLQ) Receive(ctx context.Context, limit int) ([]FailedEntry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if limit <= 0 || limit > len(q.entries) {
		limit = len(q.entries)
	}
	result := make([]FailedEntry, limit)
	copy(result, q.entries[:limit])
	return result, nil
}

// Remove deletes the entry with the given ID.
// Returns ErrEntryNotFound if no matching entry exists.
func (q *InMemoryDLQ) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrEntryNotFound
}

// Count returns the queue size.
func (q *InMemoryDLQ) Count(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries), nil
}

// Clear removes all entries from the queue.
func (q *InMemoryDLQ) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

// Redrive resubmits up to limit dead-lettered entries through s, in batches
// satisfying limits, and removes those that are delivered. Entries that fail
// again stay in q. If s dead-letters into q as well, they are added a
// second time under a new ID.
// It returns the outcomes of the resubmitted entries in queue order.
func Redrive(ctx context.Context, q DeadLetterQueue, s *Submitter, limits Limits, limit int) ([]Outcome, error) {
	failed, err := q.Receive(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, nil
	}

	entries := make([]Entry, len(failed))
	for i, f := range failed {
		entries[i] = f.Entry
	}
	outcomes, err := SubmitAll(ctx, s, limits, entries)

	for i, o := range outcomes {
		if !o.OK() {
			continue
		}
		if rmErr := q.Remove(ctx, failed[i].ID); rmErr != nil && !errors.Is(rmErr, ErrEntryNotFound) {
			return outcomes, rmErr
		}
	}
	return outcomes, err
}
