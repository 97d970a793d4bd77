// Package redisstream adapts Redis Streams to conveyor.Backend. Each submit
// pipelines one XADD per entry and reports every command's result.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/erfanmomeniii/conveyor"
)

// Stream field names written for every entry. Attributes are written as
// additional fields.
const (
	FieldPayload = "payload"
	FieldKey     = "key"
)

// Limits keep pipelines short. Redis itself accepts values up to 512 MB.
var Limits = conveyor.Limits{
	MaxEntryBytes: 1 << 20,
	MaxBatchBytes: 8 << 20,
	MaxEntries:    500,
}

// CodeConnection is set on entries whose command failed below the Redis
// protocol, for example on a dropped connection.
const CodeConnection = "ConnectionError"

// Client is satisfied by *redis.Client, *redis.ClusterClient and
// *redis.Ring.
type Client interface {
	Pipeline() redis.Pipeliner
}

var (
	_ Client = (*redis.Client)(nil)
	_ Client = (*redis.ClusterClient)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithMaxLen trims the stream to about n entries on every XADD.
// Panics if n <= 0.
func WithMaxLen(n int64) Option {
	if n <= 0 {
		panic("redisstream: max len must be positive")
	}
	return func(b *Backend) {
		b.maxLen = n
	}
}

// WithNoMkStream makes XADD fail instead of creating a missing stream.
func WithNoMkStream() Option {
	return func(b *Backend) {
		b.noMkStream = true
	}
}

// Backend appends entries to one stream.
type Backend struct {
	client     Client
	stream     string
	maxLen     int64
	noMkStream bool
}

// NewBackend creates a backend appending to stream.
// Panics if client is nil.
func NewBackend(client Client, stream string, opts ...Option) *Backend {
	if client == nil {
		panic("redisstream: client cannot be nil")
	}
	b := &Backend{client: client, stream: stream}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit implements conveyor.Backend. Accepted results carry the stream
// entry id.
func (b *Backend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, e := range entries {
		cmds[i] = pipe.XAdd(ctx, b.args(e))
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !isRedisError(err) {
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, fmt.Errorf("redisstream: exec pipeline: %w", err)
		}
		if !anySucceeded(cmds) {
			return nil, fmt.Errorf("redisstream: exec pipeline: %w: %w", conveyor.ErrUnavailable, err)
		}
	}

	results := make([]conveyor.RawResult, len(entries))
	for i, cmd := range cmds {
		id, cerr := cmd.Result()
		if cerr == nil {
			results[i] = conveyor.Accepted(id)
			continue
		}
		results[i] = rejected(cerr)
	}
	return results, nil
}

func (b *Backend) args(e conveyor.Entry) *redis.XAddArgs {
	values := make([]interface{}, 0, 4+2*len(e.Attributes))
	values = append(values, FieldPayload, e.Payload)
	if e.Key != "" {
		values = append(values, FieldKey, e.Key)
	}
	names := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		values = append(values, k, e.Attributes[k])
	}

	args := &redis.XAddArgs{
		Stream:     b.stream,
		NoMkStream: b.noMkStream,
		Values:     values,
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return args
}

func anySucceeded(cmds []*redis.StringCmd) bool {
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			return true
		}
	}
	return false
}

func isRedisError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr)
}

// Transient server replies, by error prefix.
var retryablePrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

func rejected(err error) conveyor.RawResult {
	if !isRedisError(err) {
		return conveyor.Rejected(CodeConnection, err.Error(), true)
	}
	msg := strings.TrimPrefix(err.Error(), "ERR ")
	code, _, _ := strings.Cut(msg, " ")
	retry := false
	for _, p := range retryablePrefixes {
		if redis.HasErrorPrefix(err, p) {
			retry = true
			break
		}
	}
	return conveyor.Rejected(code, err.Error(), retry)
}
