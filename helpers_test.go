package conveyor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeClock advances instantly whenever something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// stuckClock never fires.
type stuckClock struct{}

func (stuckClock) Now() time.Time                       { return time.Time{} }
func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

// recordingBackend records every call and answers with respond.
type recordingBackend struct {
	mu      sync.Mutex
	calls   [][]Entry
	respond func(call int, entries []Entry) ([]RawResult, error)
}

func (b *recordingBackend) Submit(ctx context.Context, entries []Entry) ([]RawResult, error) {
	b.mu.Lock()
	call := len(b.calls)
	b.calls = append(b.calls, entries)
	b.mu.Unlock()
	if b.respond == nil {
		return acceptAll(entries), nil
	}
	return b.respond(call, entries)
}

func (b *recordingBackend) Calls() [][]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]Entry(nil), b.calls...)
}

func acceptAll(entries []Entry) []RawResult {
	results := make([]RawResult, len(entries))
	for i, e := range entries {
		results[i] = Accepted("id-" + string(e.Payload))
	}
	return results
}

func entriesOf(payloads ...string) []Entry {
	entries := make([]Entry, len(payloads))
	for i, p := range payloads {
		entries[i] = Entry{Payload: []byte(p)}
	}
	return entries
}

func payloads(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Payload)
	}
	return out
}

func numbered(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Payload: []byte(fmt.Sprintf("e%d", i))}
	}
	return entries
}
