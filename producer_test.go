package conveyor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type outcomeLog struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

func newOutcomeLog() *outcomeLog {
	return &outcomeLog{outcomes: make(map[string]Outcome)}
}

func (l *outcomeLog) handle(e Entry, o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[string(e.Payload)] = o
}

func TestProducer_DeliversEverything(t *testing.T) {
	backend := &recordingBackend{}
	log := newOutcomeLog()
	limits := Limits{MaxEntryBytes: 10, MaxBatchBytes: 100, MaxEntries: 3}
	p := NewProducer(NewSubmitter(backend), limits,
		WithFlushInterval(time.Hour),
		WithProducerKeys(nil),
		WithOutcomeHandler(log.handle),
	)

	for _, e := range numbered(7) {
		if err := p.Put(context.Background(), e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	calls := backend.Calls()
	if len(calls) != 3 {
		t.Fatalf("backend called %d times, want 3", len(calls))
	}
	sizes := []int{len(calls[0]), len(calls[1]), len(calls[2])}
	if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", sizes)
	}
	if len(log.outcomes) != 7 {
		t.Errorf("got %d outcomes, want 7", len(log.outcomes))
	}
	for name, o := range log.outcomes {
		if !o.OK() {
			t.Errorf("%s failed: %v", name, o.Err())
		}
	}
}

func TestProducer_FlushInterval(t *testing.T) {
	backend := &recordingBackend{}
	delivered := make(chan struct{}, 1)
	p := NewProducer(NewSubmitter(backend), testLimits(),
		WithFlushInterval(10*time.Millisecond),
		WithOutcomeHandler(func(Entry, Outcome) { delivered <- struct{}{} }),
	)
	defer p.Close(context.Background())

	if err := p.PutData(context.Background(), []byte("tick")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("partial batch was not flushed on interval")
	}
	if calls := backend.Calls(); len(calls) != 1 || calls[0][0].Key == "" {
		t.Errorf("calls = %+v, want one call with a generated key", calls)
	}
}

func TestProducer_EntryTooLarge(t *testing.T) {
	log := newOutcomeLog()
	p := NewProducer(NewSubmitter(&recordingBackend{}), Limits{MaxEntryBytes: 3, MaxBatchBytes: 10, MaxEntries: 10},
		WithProducerKeys(nil),
		WithOutcomeHandler(log.handle),
	)

	p.Put(context.Background(), Entry{Payload: []byte("toolong")})
	p.Put(context.Background(), Entry{Payload: []byte("ok")})
	p.Close(context.Background())

	if o := log.outcomes["toolong"]; o.OK() || o.Failure.Code != CodeEntryTooLarge {
		t.Errorf("oversized outcome = %+v, want EntryTooLarge", o)
	}
	if o := log.outcomes["ok"]; !o.OK() {
		t.Errorf("ok outcome = %+v", o)
	}
}

func TestProducer_PutAfterClose(t *testing.T) {
	p := NewProducer(NewSubmitter(&recordingBackend{}), testLimits())
	if err := p.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Put(context.Background(), Entry{Payload: []byte("late")}); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Put after Close = %v, want ErrProducerClosed", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestProducer_CloseDeadlineAbortsInFlight(t *testing.T) {
	started := make(chan struct{})
	backend := BackendFunc(func(ctx context.Context, entries []Entry) ([]RawResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var errs []error
	var mu sync.Mutex
	log := newOutcomeLog()
	p := NewProducer(NewSubmitter(backend), testLimits(),
		WithFlushInterval(time.Millisecond),
		WithOutcomeHandler(log.handle),
		WithProducerErrorHandler(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}),
	)

	p.Put(context.Background(), Entry{Payload: []byte("stuck")})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want DeadlineExceeded", err)
	}

	if o := log.outcomes["stuck"]; o.OK() || o.Failure.Code != CodeAborted {
		t.Errorf("in-flight outcome = %+v, want Aborted", o)
	}
	if len(errs) != 1 {
		t.Errorf("error handler called %d times, want 1", len(errs))
	}
}

func TestProducerOptions_Panic(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"zero workers", func() { WithWorkers(0) }},
		{"zero buffer", func() { WithBufferSize(0) }},
		{"zero interval", func() { WithFlushInterval(0) }},
		{"nil submitter", func() { NewProducer(nil, testLimits()) }},
		{"invalid limits", func() { NewProducer(NewSubmitter(&recordingBackend{}), Limits{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
