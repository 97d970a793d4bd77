// Package sqs adapts Amazon SQS batch APIs to conveyor.Backend.
//
// Backend sends entries with SendMessageBatch. Deleter removes received
// messages with DeleteMessageBatch, taking the receipt handle from the
// entry payload, so acknowledgements get the same batching and retry
// handling as sends.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/internal/awserr"
)

// Limits are the SendMessageBatch limits: 256 KiB per message including
// attributes, 256 KiB per request and 10 messages per request.
var Limits = conveyor.Limits{
	MaxEntryBytes: 262_144,
	MaxBatchBytes: 262_144,
	MaxEntries:    10,
}

// MaxDelay is the longest per-message delay SQS accepts.
const MaxDelay = 15 * time.Minute

// Error codes set locally for entries that are never sent.
const (
	CodeMissingGroupID = "MissingMessageGroupId"
	CodeInvalidDelay   = "InvalidDelay"
	CodeMissingResult  = "MissingResult"
)

var classifier = awserr.Common.Merge(awserr.Classifier{
	Throttled:   awserr.NewCodes("RequestThrottled", "AWS.SimpleQueueService.RequestThrottled", "KmsThrottled"),
	Unavailable: awserr.NewCodes("AWS.SimpleQueueService.ServiceUnavailable"),
})

// Client is the subset of the SQS API used by Backend and Deleter.
type Client interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

var _ Client = (*sqs.Client)(nil)

// IsFIFO reports whether queueURL names a FIFO queue.
func IsFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

// Backend sends entries to one queue.
//
// On FIFO queues Entry.Key becomes the message group id and Entry.DedupID
// the deduplication id; entries without a key are rejected. Entry.Delay is
// ignored on FIFO queues, which only support queue-level delays.
type Backend struct {
	client   Client
	queueURL string
	fifo     bool
}

// NewBackend creates a backend sending to queueURL.
// Panics if client is nil.
func NewBackend(client Client, queueURL string) *Backend {
	if client == nil {
		panic("sqs: client cannot be nil")
	}
	return &Backend{client: client, queueURL: queueURL, fifo: IsFIFO(queueURL)}
}

// Submit implements conveyor.Backend with one SendMessageBatch call.
func (b *Backend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	results := make([]conveyor.RawResult, len(entries))
	batch := make([]types.SendMessageBatchRequestEntry, 0, len(entries))

	for i, e := range entries {
		if res, ok := b.check(e); !ok {
			results[i] = res
			continue
		}
		batch = append(batch, b.message(i, e))
	}
	if len(batch) == 0 {
		return results, nil
	}

	out, err := b.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(b.queueURL),
		Entries:  batch,
	})
	if err != nil {
		return nil, classifier.Classify("sqs: send message batch", err)
	}

	verdicts := make(map[string]conveyor.RawResult, len(batch))
	for _, s := range out.Successful {
		verdicts[aws.ToString(s.Id)] = conveyor.Accepted(aws.ToString(s.MessageId))
	}
	for _, f := range out.Failed {
		verdicts[aws.ToString(f.Id)] = failed(f)
	}
	collect(batch, func(m types.SendMessageBatchRequestEntry) *string { return m.Id }, verdicts, results)
	return results, nil
}

func (b *Backend) check(e conveyor.Entry) (conveyor.RawResult, bool) {
	if b.fifo && e.Key == "" {
		return conveyor.Rejected(CodeMissingGroupID, "message group id is required on FIFO queues", false), false
	}
	if e.Delay > MaxDelay {
		return conveyor.Rejected(CodeInvalidDelay, fmt.Sprintf("delay %s exceeds %s", e.Delay, MaxDelay), false), false
	}
	return conveyor.RawResult{}, true
}

func (b *Backend) message(i int, e conveyor.Entry) types.SendMessageBatchRequestEntry {
	m := types.SendMessageBatchRequestEntry{
		Id:          aws.String(strconv.Itoa(i)),
		MessageBody: aws.String(string(e.Payload)),
	}
	if b.fifo {
		m.MessageGroupId = aws.String(e.Key)
		if e.DedupID != "" {
			m.MessageDeduplicationId = aws.String(e.DedupID)
		}
	} else if e.Delay > 0 {
		m.DelaySeconds = int32(e.Delay / time.Second)
	}
	if len(e.Attributes) > 0 {
		m.MessageAttributes = make(map[string]types.MessageAttributeValue, len(e.Attributes))
		for k, v := range e.Attributes {
			m.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	return m
}

// Deleter deletes received messages from one queue. The payload of each
// submitted entry is a receipt handle.
type Deleter struct {
	client   Client
	queueURL string
}

// NewDeleter creates a Deleter for queueURL.
// Panics if client is nil.
func NewDeleter(client Client, queueURL string) *Deleter {
	if client == nil {
		panic("sqs: client cannot be nil")
	}
	return &Deleter{client: client, queueURL: queueURL}
}

// Submit implements conveyor.Backend with one DeleteMessageBatch call.
// Accepted results carry the receipt handle as ID.
func (d *Deleter) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	results := make([]conveyor.RawResult, len(entries))
	batch := make([]types.DeleteMessageBatchRequestEntry, len(entries))
	for i, e := range entries {
		batch[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(string(e.Payload)),
		}
	}
	if len(batch) == 0 {
		return results, nil
	}

	out, err := d.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(d.queueURL),
		Entries:  batch,
	})
	if err != nil {
		return nil, classifier.Classify("sqs: delete message batch", err)
	}

	verdicts := make(map[string]conveyor.RawResult, len(batch))
	for _, s := range out.Successful {
		id := aws.ToString(s.Id)
		if i, err := strconv.Atoi(id); err == nil && i >= 0 && i < len(entries) {
			verdicts[id] = conveyor.Accepted(string(entries[i].Payload))
		}
	}
	for _, f := range out.Failed {
		verdicts[aws.ToString(f.Id)] = failed(f)
	}
	collect(batch, func(m types.DeleteMessageBatchRequestEntry) *string { return m.Id }, verdicts, results)
	return results, nil
}

// collect copies verdicts into results by batch entry id. Entries the
// service did not mention are rejected as retryable.
func collect[T any](batch []T, id func(T) *string, verdicts map[string]conveyor.RawResult, results []conveyor.RawResult) {
	for _, m := range batch {
		key := aws.ToString(id(m))
		i, _ := strconv.Atoi(key)
		v, ok := verdicts[key]
		if !ok {
			v = conveyor.Rejected(CodeMissingResult, "no result reported for entry "+key, true)
		}
		results[i] = v
	}
}

// failed converts a batch error entry. Sender faults are permanent.
func failed(f types.BatchResultErrorEntry) conveyor.RawResult {
	return conveyor.Rejected(aws.ToString(f.Code), aws.ToString(f.Message), !f.SenderFault)
}
