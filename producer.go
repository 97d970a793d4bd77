package conveyor

import (
	"context"
	"sync"
	"time"
)

// OutcomeHandler receives the final outcome of each entry put into a Producer.
type OutcomeHandler func(Entry, Outcome)

// Producer accepts entries one at a time and delivers them in batches.
// A collector goroutine accumulates entries in a BatchBuilder and flushes
// when the batch is full, when the flush interval passes and on Close.
// Worker goroutines submit the built batches through a Submitter and
// report every outcome to the OutcomeHandler.
//
// Use this for unbounded streams of entries, such as log or event
// shipping, where the caller does not want to manage batches.
type Producer struct {
	submitter *Submitter
	limits    Limits
	config    *producerConfig

	intake  chan Entry
	batchCh chan Batch
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProducer creates a producer and starts its goroutines. Batches are
// built under limits and submitted with submitter.
// Panics if submitter is nil or limits are invalid.
func NewProducer(submitter *Submitter, limits Limits, opts ...ProducerOption) *Producer {
	if submitter == nil {
		panic("conveyor: submitter cannot be nil")
	}
	if err := limits.Validate(); err != nil {
		panic(err.Error())
	}
	config := defaultProducerConfig()
	for _, opt := range opts {
		opt(config)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		submitter: submitter,
		limits:    limits,
		config:    config,
		intake:    make(chan Entry, config.bufferSize),
		batchCh:   make(chan Batch, config.workers),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for i := 0; i < config.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.collector()
		p.wg.Wait()
		close(p.done)
	}()

	return p
}

// Put queues e for delivery. If e has no key and the producer has a
// KeyAssigner, a key is generated. Put blocks while the intake buffer is
// full, until ctx is done.
func (p *Producer) Put(ctx context.Context, e Entry) error {
	if e.Key == "" && p.config.keys != nil {
		e.Key = p.config.keys.GenerateKey()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.intake <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutData queues payload with a generated key.
func (p *Producer) PutData(ctx context.Context, payload []byte) error {
	return p.Put(ctx, Entry{Payload: payload})
}

// Close stops accepting entries, flushes the partial batch and waits for
// all batches to be submitted. If ctx ends first, in-flight submissions are
// cancelled, their pending entries get Aborted outcomes and ctx.Err() is
// returned. Close is safe to call more than once.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.intake)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Producer) collector() {
	defer close(p.batchCh)

	builder := NewBatchBuilder(p.limits, WithKeyAssigner(nil))
	ticker := time.NewTicker(p.config.flushInterval)
	defer ticker.Stop()

	flush := func(reason string) {
		if builder.IsEmpty() {
			return
		}
		batch := builder.Build()
		p.config.logger.Debug("flushing batch", "reason", reason, "count", batch.Len(), "bytes", batch.Bytes)
		p.batchCh <- batch
	}

	for {
		select {
		case e, ok := <-p.intake:
			if !ok {
				flush("close")
				return
			}
			err := builder.Add(e)
			if IsBatchFull(err) {
				flush("full")
				err = builder.Add(e)
			}
			if err != nil {
				p.config.logger.Warn("dropping entry too large for backend", "size", e.Size(), "error", err)
				p.config.onOutcome(e, Outcome{Failure: &Failure{Code: CodeEntryTooLarge, Message: err.Error()}})
			}
		case <-ticker.C:
			flush("interval")
		}
	}
}

func (p *Producer) worker() {
	defer p.wg.Done()

	for batch := range p.batchCh {
		p.submit(batch)
	}
}

func (p *Producer) submit(batch Batch) {
	outcomes, err := p.submitter.SubmitBatch(p.ctx, batch)
	if err != nil {
		p.config.logger.Error("batch aborted", "count", batch.Len(), "error", err)
		p.config.errorHandler(err)
	}
	for i, e := range batch.Entries {
		o := Outcome{Failure: &Failure{Code: CodeAborted}}
		if i < len(outcomes) {
			o = outcomes[i]
		} else if err != nil {
			o.Failure.Message = err.Error()
		}
		p.config.onOutcome(e, o)
	}
}
