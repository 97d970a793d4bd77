package kafka

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfanmomeniii/conveyor"
)

type fakeWriter struct {
	calls [][]kafka.Message
	err   func(msgs []kafka.Message) error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.calls = append(f.calls, msgs)
	if f.err == nil {
		return nil
	}
	return f.err(msgs)
}

func TestBackend_Submit(t *testing.T) {
	w := &fakeWriter{}
	b := NewBackend(w, WithTopic("events"))

	results, err := b.Submit(context.Background(), []conveyor.Entry{
		{Payload: []byte("a"), Key: "k1", Attributes: map[string]string{"z": "1", "a": "2"}},
		{Payload: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []conveyor.RawResult{conveyor.Accepted(""), conveyor.Accepted("")}, results)

	require.Len(t, w.calls, 1)
	msgs := w.calls[0]
	assert.Equal(t, "events", msgs[0].Topic)
	assert.Equal(t, []byte("k1"), msgs[0].Key)
	assert.Equal(t, []byte("a"), msgs[0].Value)
	assert.Equal(t, []kafka.Header{{Key: "a", Value: []byte("2")}, {Key: "z", Value: []byte("1")}}, msgs[0].Headers)
	assert.Nil(t, msgs[1].Key)
}

func TestBackend_Submit_WriteErrors(t *testing.T) {
	w := &fakeWriter{err: func(msgs []kafka.Message) error {
		return kafka.WriteErrors{
			nil,
			kafka.LeaderNotAvailable,
			kafka.TopicAuthorizationFailed,
			kafka.ThrottlingQuotaExceeded,
			errors.New("boom"),
		}
	}}
	results, err := NewBackend(w).Submit(context.Background(), make([]conveyor.Entry, 5))
	require.NoError(t, err)

	assert.True(t, results[0].OK)
	assert.Equal(t, kafka.LeaderNotAvailable.Title(), results[1].Code)
	assert.True(t, results[1].Retryable)
	assert.False(t, results[2].Retryable)
	assert.True(t, results[3].Retryable)
	assert.Equal(t, CodeWriteFailed, results[4].Code)
	assert.False(t, results[4].Retryable)
}

func TestBackend_Submit_WriteErrorsMismatch(t *testing.T) {
	w := &fakeWriter{err: func([]kafka.Message) error { return kafka.WriteErrors{nil} }}
	_, err := NewBackend(w).Submit(context.Background(), make([]conveyor.Entry, 2))
	assert.ErrorIs(t, err, conveyor.ErrResultMismatch)
}

func TestBackend_Submit_MessageTooLarge(t *testing.T) {
	w := &fakeWriter{err: func(msgs []kafka.Message) error {
		return kafka.MessageTooLargeError{Message: msgs[1], Remaining: []kafka.Message{msgs[0], msgs[2]}}
	}}
	results, err := NewBackend(w).Submit(context.Background(), make([]conveyor.Entry, 3))
	require.NoError(t, err)

	assert.Equal(t, CodeNotWritten, results[0].Code)
	assert.True(t, results[0].Retryable)
	assert.Equal(t, CodeMessageTooLarge, results[1].Code)
	assert.False(t, results[1].Retryable)
	assert.True(t, results[2].Retryable)
}

func TestBackend_Submit_CallErrors(t *testing.T) {
	w := &fakeWriter{err: func([]kafka.Message) error { return errors.New("dial tcp: connection refused") }}
	_, err := NewBackend(w).Submit(context.Background(), make([]conveyor.Entry, 1))
	assert.ErrorIs(t, err, conveyor.ErrUnavailable)

	w.err = func([]kafka.Message) error { return io.ErrClosedPipe }
	_, err = NewBackend(w).Submit(context.Background(), make([]conveyor.Entry, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.False(t, conveyor.IsRetryable(err))
}

func TestBackend_Submit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &fakeWriter{err: func([]kafka.Message) error { return context.Canceled }}
	_, err := NewBackend(w).Submit(ctx, make([]conveyor.Entry, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, conveyor.IsRetryable(err))
}

func TestBackend_WithSubmitter(t *testing.T) {
	w := &fakeWriter{err: func(msgs []kafka.Message) error {
		if len(msgs) == 2 {
			return kafka.WriteErrors{nil, kafka.NotEnoughReplicas}
		}
		return nil
	}}
	s := conveyor.NewSubmitter(NewBackend(w), conveyor.WithBackoff(conveyor.Backoff{}))

	outcomes, err := s.SubmitBatch(context.Background(), conveyor.NewBatch(
		conveyor.Entry{Payload: []byte("a"), Key: "k"},
		conveyor.Entry{Payload: []byte("b"), Key: "k"},
	))
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK())
	assert.True(t, outcomes[1].OK())
	assert.Equal(t, 2, outcomes[1].Attempts)
	require.Len(t, w.calls, 2)
	assert.Equal(t, []byte("b"), w.calls[1][0].Value)
}

func TestNewBackend_NilWriterPanics(t *testing.T) {
	assert.Panics(t, func() { NewBackend(nil) })
}
