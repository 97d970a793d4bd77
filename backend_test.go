package conveyor

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSimpleBackend(t *testing.T) {
	backend := NewSimpleBackend(func(ctx context.Context, e Entry) (string, error) {
		switch string(e.Payload) {
		case "throttle":
			return "", fmt.Errorf("busy: %w", ErrThrottled)
		case "down":
			return "", ErrUnavailable
		case "bad":
			return "", errors.New("schema mismatch")
		case "custom":
			return "", &Failure{Code: "KMSDisabled", Message: "key disabled", Retryable: false}
		}
		return "seq-" + string(e.Payload), nil
	})

	results, err := backend.Submit(context.Background(), entriesOf("ok", "throttle", "down", "bad", "custom"))
	if err != nil {
		t.Fatal(err)
	}

	want := []RawResult{
		Accepted("seq-ok"),
		{Code: CodeThrottled, Retryable: true},
		{Code: CodeUnavailable, Retryable: true},
		{Code: CodeValidation},
		{Code: "KMSDisabled", Message: "key disabled"},
	}
	for i, w := range want {
		got := results[i]
		if got.OK != w.OK || got.ID != w.ID || got.Code != w.Code || got.Retryable != w.Retryable {
			t.Errorf("result %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestSimpleBackend_WithSubmitter(t *testing.T) {
	attempts := map[string]int{}
	backend := NewSimpleBackend(func(ctx context.Context, e Entry) (string, error) {
		p := string(e.Payload)
		attempts[p]++
		if p == "flaky" && attempts[p] == 1 {
			return "", ErrThrottled
		}
		return p, nil
	})
	s := NewSubmitter(backend, WithClock(newFakeClock()))

	outcomes, err := s.SubmitBatch(context.Background(), NewBatch(entriesOf("steady", "flaky")...))
	if err != nil {
		t.Fatal(err)
	}
	if !outcomes[0].OK() || !outcomes[1].OK() {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if attempts["steady"] != 1 || attempts["flaky"] != 2 {
		t.Errorf("attempts = %v", attempts)
	}
}
