// Package kafka adapts a segmentio/kafka-go Writer to conveyor.Backend.
//
// The writer must be synchronous (Async false) so that WriteMessages
// reports per-message errors. Entry.Key becomes the message key and
// Entry.Attributes become headers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/segmentio/kafka-go"

	"github.com/erfanmomeniii/conveyor"
)

// Limits suit a Writer with the default 1 MiB BatchBytes. Keep
// MaxEntryBytes below the writer's BatchBytes; the difference covers
// record overhead.
var Limits = conveyor.Limits{
	MaxEntryBytes: 1_000_000,
	MaxBatchBytes: 10 << 20,
	MaxEntries:    1000,
}

// Codes set for entries the broker never saw.
const (
	CodeMessageTooLarge = "MessageSizeTooLarge"
	CodeNotWritten      = "NotWritten"
	CodeWriteFailed     = "WriteFailed"
)

// Writer is the subset of *kafka.Writer used by Backend.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ Writer = (*kafka.Writer)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithTopic sets the topic on every message. Use it when the Writer has no
// Topic of its own.
func WithTopic(topic string) Option {
	return func(b *Backend) {
		b.topic = topic
	}
}

// Backend writes entries with one WriteMessages call per submit.
type Backend struct {
	writer Writer
	topic  string
}

// NewBackend creates a backend over writer.
// Panics if writer is nil.
func NewBackend(writer Writer, opts ...Option) *Backend {
	if writer == nil {
		panic("kafka: writer cannot be nil")
	}
	b := &Backend{writer: writer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit implements conveyor.Backend. Kafka assigns offsets after the
// call returns, so accepted results carry no id.
func (b *Backend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = b.message(i, e)
	}

	err := b.writer.WriteMessages(ctx, msgs...)
	results := make([]conveyor.RawResult, len(entries))

	var writeErrs kafka.WriteErrors
	var tooLarge kafka.MessageTooLargeError
	switch {
	case err == nil:
		for i := range results {
			results[i] = conveyor.Accepted("")
		}
	case errors.As(err, &writeErrs):
		if len(writeErrs) != len(entries) {
			return nil, fmt.Errorf("kafka: %w: %d errors for %d messages", conveyor.ErrResultMismatch, len(writeErrs), len(entries))
		}
		for i, werr := range writeErrs {
			if werr == nil {
				results[i] = conveyor.Accepted("")
				continue
			}
			results[i] = rejected(werr)
		}
	case errors.As(err, &tooLarge):
		// The writer rejects the whole call when one message exceeds its
		// BatchBytes; the others were not written.
		big, _ := tooLarge.Message.WriterData.(int)
		for i := range results {
			results[i] = conveyor.Rejected(CodeNotWritten, "batch rejected because of an oversized message", true)
		}
		results[big] = conveyor.Rejected(CodeMessageTooLarge, tooLarge.Error(), false)
	default:
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return nil, fmt.Errorf("kafka: writer closed: %w", err)
		}
		return nil, fmt.Errorf("kafka: write messages: %w: %w", conveyor.ErrUnavailable, err)
	}
	return results, nil
}

func (b *Backend) message(i int, e conveyor.Entry) kafka.Message {
	m := kafka.Message{
		Topic:      b.topic,
		Value:      e.Payload,
		WriterData: i,
	}
	if e.Key != "" {
		m.Key = []byte(e.Key)
	}
	if len(e.Attributes) > 0 {
		names := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			names = append(names, k)
		}
		sort.Strings(names)
		m.Headers = make([]kafka.Header, len(names))
		for j, k := range names {
			m.Headers[j] = kafka.Header{Key: k, Value: []byte(e.Attributes[k])}
		}
	}
	return m
}

func rejected(err error) conveyor.RawResult {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		retry := kerr.Temporary() || kerr == kafka.ThrottlingQuotaExceeded
		return conveyor.Rejected(kerr.Title(), err.Error(), retry)
	}
	return conveyor.Rejected(CodeWriteFailed, err.Error(), conveyor.IsRetryable(err))
}
