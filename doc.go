// Package conveyor provides a client-side library for reliably pushing
// bounded-size entries into streaming and queueing backends that enforce
// per-entry and per-batch limits, and for waiting on long-running
// asynchronous backend operations.
//
// The library does not talk to any backend directly. Backends are plugged
// in through small collaborator interfaces, with ready-made adapters in the
// kinesis, sqs, firehose, kafka, redisstream and athena subpackages.
//
// # Core Concepts
//
// Building batches:
//   - BatchBuilder: accumulates entries under per-entry size, total batch
//     size and entry count limits
//   - KeyAssigner: generates distribution keys for entries without one
//
// Submitting batches:
//   - Backend: submits entries and reports one raw result per entry
//   - Submitter: drives the partial-failure retry loop and returns one
//     Outcome per entry, in the original order
//   - Backoff: exponential delay with jitter between retry rounds
//
// Streaming entries:
//   - Producer: buffers entries from Put, flushes them through a Submitter
//     when a batch fills up or the flush interval passes, and reports each
//     Outcome to an OutcomeHandler
//   - SubmitAll: splits a slice of entries into batches and submits them
//     in order
//
// Wrapping backends:
//   - Middleware and Chain: RecoveryMiddleware, LoggingMiddleware,
//     TimeoutMiddleware, RateLimitMiddleware, HealthCheckMiddleware
//   - ResilientBackend: a recovery, timeout and circuit breaker stack
//
// Waiting for operations:
//   - StatusSource: reports the state of an asynchronous operation
//   - Waiter: polls a StatusSource until a terminal state or timeout, and
//     cancels operations whose source implements Canceller
//   - StartAndWait: starts an operation with a Starter and waits for it
//
// # Basic Usage
//
//	builder := conveyor.NewBatchBuilder(kinesis.Limits)
//	submitter := conveyor.NewSubmitter(backend,
//	    conveyor.WithMaxAttempts(5),
//	    conveyor.WithBackoff(conveyor.DefaultBackoff()),
//	)
//
//	for _, payload := range payloads {
//	    err := builder.AddEntryData(payload)
//	    if errors.Is(err, conveyor.ErrBatchFull) {
//	        outcomes, _ := submitter.SubmitBatch(ctx, builder.Build())
//	        handle(outcomes)
//	        err = builder.AddEntryData(payload)
//	    }
//	    if err != nil {
//	        // entry too large, split or discard it
//	    }
//	}
//	outcomes, _ := submitter.SubmitBatch(ctx, builder.Build())
//
// Delivery is at-least-once: an entry whose success acknowledgement was
// lost in transit may be submitted again in a later round.
package conveyor
