package conveyor

import (
	"errors"
	"fmt"
)

// Limits are the backend-imposed bounds on a single submit call.
// Adapter packages export the values for their backend.
type Limits struct {
	// MaxEntryBytes is the largest Entry.Size accepted.
	MaxEntryBytes int

	// MaxBatchBytes is the largest sum of Entry.Size in one batch.
	MaxBatchBytes int

	// MaxEntries is the largest number of entries in one batch.
	MaxEntries int
}

// Validate reports whether all limits are positive.
func (l Limits) Validate() error {
	if l.MaxEntryBytes <= 0 || l.MaxBatchBytes <= 0 || l.MaxEntries <= 0 {
		return fmt.Errorf("conveyor: limits must be positive: %+v", l)
	}
	return nil
}

// Check reports whether b satisfies the limits. It returns an error
// wrapping ErrInvalidBatch describing the first violation.
func (l Limits) Check(b Batch) error {
	if len(b.Entries) > l.MaxEntries {
		return fmt.Errorf("%w: %d entries, limit %d", ErrInvalidBatch, len(b.Entries), l.MaxEntries)
	}
	total := 0
	for i, e := range b.Entries {
		size := e.Size()
		if size > l.MaxEntryBytes {
			return fmt.Errorf("%w: entry %d is %d bytes, limit %d", ErrInvalidBatch, i, size, l.MaxEntryBytes)
		}
		total += size
	}
	if total > l.MaxBatchBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidBatch, total, l.MaxBatchBytes)
	}
	return nil
}

// Batch is an ordered group of entries produced by one BatchBuilder.Build
// call. A built batch always satisfies the builder's Limits.
type Batch struct {
	Entries []Entry

	// Bytes is the sum of Entry.Size over Entries.
	Bytes int
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int {
	return len(b.Entries)
}

// NewBatch creates a batch from entries, computing Bytes. It does not
// check limits; SubmitBatch does when the Submitter has limits configured.
func NewBatch(entries ...Entry) Batch {
	b := Batch{Entries: entries}
	for _, e := range entries {
		b.Bytes += e.Size()
	}
	return b
}

// BuilderOption configures a BatchBuilder.
type BuilderOption func(*BatchBuilder)

// WithKeyAssigner sets the KeyAssigner used for entries added without a
// key. Pass nil for backends without distribution keys; entries are then
// added with whatever key the caller supplied, possibly none.
func WithKeyAssigner(k KeyAssigner) BuilderOption {
	return func(b *BatchBuilder) {
		b.keys = k
	}
}

// BatchBuilder accumulates entries under three simultaneous limits: the
// size of each entry, the total size of the batch and the number of
// entries. It is not safe for concurrent use; each builder belongs to a
// single producer.
//
// Adding an entry that can never fit fails with ErrEntryTooLarge. Adding an
// entry that does not fit in the current batch fails with ErrBatchFull and
// leaves the builder unchanged, so the caller can Build, submit, and add
// the entry again.
type BatchBuilder struct {
	limits Limits
	keys   KeyAssigner

	entries []Entry
	total   int
}

// NewBatchBuilder creates a builder for the given limits.
// Panics if any limit is not positive.
func NewBatchBuilder(limits Limits, opts ...BuilderOption) *BatchBuilder {
	if err := limits.Validate(); err != nil {
		panic(err.Error())
	}
	b := &BatchBuilder{
		limits: limits,
		keys:   UUIDKeys{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddEntryData adds payload with a generated distribution key.
func (b *BatchBuilder) AddEntryData(payload []byte) error {
	var key string
	if b.keys != nil {
		key = b.keys.GenerateKey()
	}
	return b.Add(Entry{Payload: payload, Key: key})
}

// AddEntry adds payload with the given options. If no key is set with
// WithKey, the builder's KeyAssigner generates one.
func (b *BatchBuilder) AddEntry(payload []byte, opts ...EntryOption) error {
	o := entryOptions{entry: Entry{Payload: payload}}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasKey && b.keys != nil {
		o.entry.Key = b.keys.GenerateKey()
	}
	return b.Add(o.entry)
}

// Add adds a prepared entry as is. No key is generated.
func (b *BatchBuilder) Add(e Entry) error {
	size := e.Size()
	if size > b.limits.MaxEntryBytes {
		return &LimitError{
			Err:   ErrEntryTooLarge,
			Size:  size,
			Limit: b.limits.MaxEntryBytes,
			Total: b.total,
			Count: len(b.entries),
		}
	}
	if len(b.entries)+1 > b.limits.MaxEntries {
		return &LimitError{
			Err:   ErrBatchFull,
			Size:  size,
			Limit: b.limits.MaxEntries,
			Total: b.total,
			Count: len(b.entries),
		}
	}
	if b.total+size > b.limits.MaxBatchBytes {
		return &LimitError{
			Err:   ErrBatchFull,
			Size:  size,
			Limit: b.limits.MaxBatchBytes,
			Total: b.total,
			Count: len(b.entries),
		}
	}
	b.entries = append(b.entries, e)
	b.total += size
	return nil
}

// Build returns the accumulated entries as a Batch and resets the builder.
// It returns an empty batch if nothing was added.
func (b *BatchBuilder) Build() Batch {
	batch := Batch{Entries: b.entries, Bytes: b.total}
	b.entries = nil
	b.total = 0
	return batch
}

// Len returns the number of accumulated entries.
func (b *BatchBuilder) Len() int {
	return len(b.entries)
}

// Bytes returns the accumulated size in bytes.
func (b *BatchBuilder) Bytes() int {
	return b.total
}

// IsEmpty reports whether no entries are accumulated.
func (b *BatchBuilder) IsEmpty() bool {
	return len(b.entries) == 0
}

// Limits returns the builder's limits.
func (b *BatchBuilder) Limits() Limits {
	return b.limits
}

// IsEntryTooLarge reports whether err rejects an entry permanently.
func IsEntryTooLarge(err error) bool {
	return errors.Is(err, ErrEntryTooLarge)
}

// IsBatchFull reports whether err asks the caller to flush and retry.
func IsBatchFull(err error) bool {
	return errors.Is(err, ErrBatchFull)
}
