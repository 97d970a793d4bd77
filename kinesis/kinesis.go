// Package kinesis adapts Amazon Kinesis Data Streams PutRecords to
// conveyor.Backend.
package kinesis

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/internal/awserr"
)

// Limits are the PutRecords limits: 1 MB per record including the
// partition key, 5 MB per request and 500 records per request.
var Limits = conveyor.Limits{
	MaxEntryBytes: 1_000_000,
	MaxBatchBytes: 5_000_000,
	MaxEntries:    500,
}

// Per-record error codes returned by PutRecords.
const (
	CodeThroughputExceeded = "ProvisionedThroughputExceededException"
	CodeInternalFailure    = "InternalFailure"
	CodeMissingKey         = "MissingPartitionKey"
)

var classifier = awserr.Common.Merge(awserr.Classifier{
	Throttled:   awserr.NewCodes(CodeThroughputExceeded, "KMSThrottlingException"),
	Unavailable: awserr.NewCodes("KMSInternalException"),
})

// Client is the subset of the Kinesis API used by Backend.
type Client interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
	PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

var _ Client = (*kinesis.Client)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithStreamARN addresses the stream by ARN instead of by name.
func WithStreamARN(arn string) Option {
	return func(b *Backend) {
		b.streamARN = arn
	}
}

// Backend puts entries into one Kinesis data stream.
type Backend struct {
	client    Client
	stream    string
	streamARN string
}

// NewBackend creates a backend writing to stream.
// Panics if client is nil.
func NewBackend(client Client, stream string, opts ...Option) *Backend {
	if client == nil {
		panic("kinesis: client cannot be nil")
	}
	b := &Backend{client: client, stream: stream}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit implements conveyor.Backend with one PutRecords call. Entries
// without a partition key are rejected without being sent.
func (b *Backend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	results := make([]conveyor.RawResult, len(entries))
	records := make([]types.PutRecordsRequestEntry, 0, len(entries))
	index := make([]int, 0, len(entries))

	for i, e := range entries {
		if e.Key == "" {
			results[i] = conveyor.Rejected(CodeMissingKey, "partition key is required", false)
			continue
		}
		records = append(records, record(e))
		index = append(index, i)
	}
	if len(records) == 0 {
		return results, nil
	}

	input := &kinesis.PutRecordsInput{Records: records}
	b.address(&input.StreamName, &input.StreamARN)

	out, err := b.client.PutRecords(ctx, input)
	if err != nil {
		return nil, classifier.Classify("kinesis: put records", err)
	}
	if len(out.Records) != len(records) {
		return nil, fmt.Errorf("kinesis: %w: %d results for %d records", conveyor.ErrResultMismatch, len(out.Records), len(records))
	}

	for j, r := range out.Records {
		i := index[j]
		code := aws.ToString(r.ErrorCode)
		if code == "" {
			results[i] = conveyor.Accepted(aws.ToString(r.SequenceNumber))
			continue
		}
		results[i] = conveyor.Rejected(code, aws.ToString(r.ErrorMessage), retryable(code))
	}
	return results, nil
}

// PutRecord puts a single entry and returns its sequence number.
func (b *Backend) PutRecord(ctx context.Context, e conveyor.Entry) (string, error) {
	r := record(e)
	input := &kinesis.PutRecordInput{
		Data:            r.Data,
		PartitionKey:    r.PartitionKey,
		ExplicitHashKey: r.ExplicitHashKey,
	}
	b.address(&input.StreamName, &input.StreamARN)

	out, err := b.client.PutRecord(ctx, input)
	if err != nil {
		return "", classifier.Classify("kinesis: put record", err)
	}
	return aws.ToString(out.SequenceNumber), nil
}

func (b *Backend) address(name, arn **string) {
	if b.streamARN != "" {
		*arn = aws.String(b.streamARN)
		return
	}
	*name = aws.String(b.stream)
}

func record(e conveyor.Entry) types.PutRecordsRequestEntry {
	r := types.PutRecordsRequestEntry{
		Data:         e.Payload,
		PartitionKey: aws.String(e.Key),
	}
	if e.ExplicitHashKey != "" {
		r.ExplicitHashKey = aws.String(e.ExplicitHashKey)
	}
	return r
}

func retryable(code string) bool {
	return code == CodeThroughputExceeded || code == CodeInternalFailure
}
