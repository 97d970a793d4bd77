// Package firehose adapts Amazon Data Firehose PutRecordBatch to
// conveyor.Backend. Firehose has no distribution keys; build batches with
// conveyor.WithKeyAssigner(nil).
package firehose

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/internal/awserr"
)

// Limits are the PutRecordBatch limits: 1,000 KiB per record, 4 MiB per
// request and 500 records per request.
var Limits = conveyor.Limits{
	MaxEntryBytes: 1_024_000,
	MaxBatchBytes: 4_194_304,
	MaxEntries:    500,
}

// Per-record error codes returned by PutRecordBatch.
const (
	CodeServiceUnavailable = "ServiceUnavailableException"
	CodeInternalFailure    = "InternalFailure"
)

var classifier = awserr.Common.Merge(awserr.Classifier{
	Unavailable: awserr.NewCodes(CodeServiceUnavailable),
})

// Client is the subset of the Firehose API used by Backend.
type Client interface {
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

var _ Client = (*firehose.Client)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithDelimiter appends delim to every record. Firehose concatenates
// records at the destination, so line-oriented consumers usually want
// "\n". The delimiter is not counted by conveyor.Entry.Size; leave room
// for it in the limits.
func WithDelimiter(delim string) Option {
	return func(b *Backend) {
		b.delim = []byte(delim)
	}
}

// Backend puts entries into one delivery stream.
type Backend struct {
	client Client
	stream string
	delim  []byte
}

// NewBackend creates a backend writing to the delivery stream.
// Panics if client is nil.
func NewBackend(client Client, deliveryStream string, opts ...Option) *Backend {
	if client == nil {
		panic("firehose: client cannot be nil")
	}
	b := &Backend{client: client, stream: deliveryStream}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit implements conveyor.Backend with one PutRecordBatch call.
func (b *Backend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	records := make([]types.Record, len(entries))
	for i, e := range entries {
		records[i] = types.Record{Data: b.data(e.Payload)}
	}

	out, err := b.client.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
		DeliveryStreamName: aws.String(b.stream),
		Records:            records,
	})
	if err != nil {
		return nil, classifier.Classify("firehose: put record batch", err)
	}
	if len(out.RequestResponses) != len(entries) {
		return nil, fmt.Errorf("firehose: %w: %d responses for %d records", conveyor.ErrResultMismatch, len(out.RequestResponses), len(entries))
	}

	results := make([]conveyor.RawResult, len(entries))
	for i, r := range out.RequestResponses {
		code := aws.ToString(r.ErrorCode)
		if code == "" {
			results[i] = conveyor.Accepted(aws.ToString(r.RecordId))
			continue
		}
		results[i] = conveyor.Rejected(code, aws.ToString(r.ErrorMessage), retryable(code))
	}
	return results, nil
}

func (b *Backend) data(payload []byte) []byte {
	if len(b.delim) == 0 {
		return payload
	}
	data := make([]byte, 0, len(payload)+len(b.delim))
	data = append(data, payload...)
	return append(data, b.delim...)
}

func retryable(code string) bool {
	return code == CodeServiceUnavailable || code == CodeInternalFailure
}
