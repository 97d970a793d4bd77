package conveyor

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryDLQ_SendReceiveRemove(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryDLQ(0)

	for _, p := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, FailedEntry{ID: p, Entry: Entry{Payload: []byte(p)}}); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := q.Receive(ctx, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Receive(2) = %+v", got)
	}

	if err := q.Remove(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, "b"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second Remove = %v, want ErrEntryNotFound", err)
	}
	if n, _ := q.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	q.Clear()
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count after Clear = %d", n)
	}
}

func TestInMemoryDLQ_MaxSizeDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryDLQ(2)

	for _, id := range []string{"1", "2", "3"} {
		q.Send(ctx, FailedEntry{ID: id})
	}

	got, _ := q.Receive(ctx, 0)
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Errorf("entries = %+v, want [2 3]", got)
	}
}

func TestRedrive(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryDLQ(0)
	for _, p := range []string{"good", "bad", "fine"} {
		q.Send(ctx, FailedEntry{Entry: Entry{Payload: []byte(p)}})
	}

	backend := &recordingBackend{
		respond: func(call int, entries []Entry) ([]RawResult, error) {
			results := acceptAll(entries)
			for i, e := range entries {
				if string(e.Payload) == "bad" {
					results[i] = Rejected("InvalidArgument", "still bad", false)
				}
			}
			return results, nil
		},
	}

	outcomes, err := Redrive(ctx, q, NewSubmitter(backend), testLimits(), 0)
	if err != nil {
		t.Fatalf("Redrive: %v", err)
	}
	if len(outcomes) != 3 || outcomes[1].OK() {
		t.Errorf("outcomes = %+v", outcomes)
	}

	left, _ := q.Receive(ctx, 0)
	if len(left) != 1 || string(left[0].Entry.Payload) != "bad" {
		t.Errorf("left in queue = %+v, want only bad", left)
	}
}
