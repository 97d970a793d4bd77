package conveyor

import (
	"fmt"
	"time"
)

// Entry is one unit of data destined for a backend. Entries are values;
// the builder and submitter never modify them after they are added.
type Entry struct {
	// Payload is the data to deliver.
	Payload []byte

	// Key is the distribution key (partition key for streams, message
	// group id for FIFO queues). Empty means no key.
	Key string

	// ExplicitHashKey overrides the hash of Key where the backend supports it.
	ExplicitHashKey string

	// DedupID is the backend deduplication id, for backends that have one.
	DedupID string

	// Delay postpones delivery on queue backends that support it.
	Delay time.Duration

	// Attributes are queue message attributes. They count towards Size.
	Attributes map[string]string
}

// Size returns the number of bytes the entry counts against size limits:
// the payload, the key and any attribute names and values.
func (e Entry) Size() int {
	n := len(e.Payload) + len(e.Key)
	for k, v := range e.Attributes {
		n += len(k) + len(v)
	}
	return n
}

func (e Entry) String() string {
	if e.Key == "" {
		return fmt.Sprintf("entry(%d bytes)", e.Size())
	}
	return fmt.Sprintf("entry(%d bytes, key=%s)", e.Size(), e.Key)
}

// EntryOption sets optional fields on an entry passed to AddEntry.
type EntryOption func(*entryOptions)

type entryOptions struct {
	entry  Entry
	hasKey bool
}

// WithKey sets an explicit distribution key. Explicit keys, including the
// empty string, are never replaced by a generated key.
func WithKey(key string) EntryOption {
	return func(o *entryOptions) {
		o.entry.Key = key
		o.hasKey = true
	}
}

// WithExplicitHashKey sets the explicit hash key.
func WithExplicitHashKey(hashKey string) EntryOption {
	return func(o *entryOptions) {
		o.entry.ExplicitHashKey = hashKey
	}
}

// WithDedupID sets the deduplication id.
func WithDedupID(id string) EntryOption {
	return func(o *entryOptions) {
		o.entry.DedupID = id
	}
}

// WithDelay sets the delivery delay. Panics if d is negative.
func WithDelay(d time.Duration) EntryOption {
	if d < 0 {
		panic("conveyor: delay cannot be negative")
	}
	return func(o *entryOptions) {
		o.entry.Delay = d
	}
}

// WithAttribute adds a message attribute.
func WithAttribute(name, value string) EntryOption {
	return func(o *entryOptions) {
		if o.entry.Attributes == nil {
			o.entry.Attributes = make(map[string]string)
		}
		o.entry.Attributes[name] = value
	}
}
