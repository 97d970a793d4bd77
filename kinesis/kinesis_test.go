package kinesis

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfanmomeniii/conveyor"
)

type fakeClient struct {
	inputs    []*kinesis.PutRecordsInput
	putRecord *kinesis.PutRecordInput
	respond   func(call int, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
}

func (f *fakeClient) PutRecords(ctx context.Context, in *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	call := len(f.inputs)
	f.inputs = append(f.inputs, in)
	return f.respond(call, in)
}

func (f *fakeClient) PutRecord(ctx context.Context, in *kinesis.PutRecordInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
	f.putRecord = in
	return &kinesis.PutRecordOutput{SequenceNumber: aws.String("seq-single"), ShardId: aws.String("shardId-000")}, nil
}

func sequenced(in *kinesis.PutRecordsInput) []types.PutRecordsResultEntry {
	out := make([]types.PutRecordsResultEntry, len(in.Records))
	for i, r := range in.Records {
		out[i] = types.PutRecordsResultEntry{SequenceNumber: aws.String("seq-" + string(r.Data))}
	}
	return out
}

func TestBackend_Submit(t *testing.T) {
	client := &fakeClient{
		respond: func(call int, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			records := sequenced(in)
			records[1] = types.PutRecordsResultEntry{
				ErrorCode:    aws.String(CodeThroughputExceeded),
				ErrorMessage: aws.String("Rate exceeded for shard shardId-000"),
			}
			records[2] = types.PutRecordsResultEntry{
				ErrorCode:    aws.String("KMSAccessDeniedException"),
				ErrorMessage: aws.String("denied"),
			}
			return &kinesis.PutRecordsOutput{Records: records, FailedRecordCount: aws.Int32(2)}, nil
		},
	}
	b := NewBackend(client, "events")

	entries := []conveyor.Entry{
		{Payload: []byte("a"), Key: "k1", ExplicitHashKey: "42"},
		{Payload: []byte("b"), Key: "k2"},
		{Payload: []byte("c"), Key: "k3"},
		{Payload: []byte("d")},
	}
	results, err := b.Submit(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, conveyor.Accepted("seq-a"), results[0])
	assert.Equal(t, CodeThroughputExceeded, results[1].Code)
	assert.True(t, results[1].Retryable)
	assert.False(t, results[2].Retryable)
	assert.Equal(t, CodeMissingKey, results[3].Code)
	assert.False(t, results[3].Retryable)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "events", aws.ToString(in.StreamName))
	assert.Nil(t, in.StreamARN)
	require.Len(t, in.Records, 3)
	assert.Equal(t, "42", aws.ToString(in.Records[0].ExplicitHashKey))
	assert.Nil(t, in.Records[1].ExplicitHashKey)
}

func TestBackend_CallErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"throughput", &types.ProvisionedThroughputExceededException{Message: aws.String("slow")}, true},
		{"not found", &types.ResourceNotFoundException{Message: aws.String("no stream")}, false},
		{"kms throttling", &smithy.GenericAPIError{Code: "KMSThrottlingException"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{respond: func(int, *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
				return nil, tt.err
			}}
			_, err := NewBackend(client, "events").Submit(context.Background(), []conveyor.Entry{{Payload: []byte("a"), Key: "k"}})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, conveyor.IsRetryable(err))
		})
	}
}

func TestBackend_WithSubmitter(t *testing.T) {
	client := &fakeClient{
		respond: func(call int, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			records := sequenced(in)
			if call == 0 {
				records[0] = types.PutRecordsResultEntry{ErrorCode: aws.String(CodeInternalFailure)}
			}
			return &kinesis.PutRecordsOutput{Records: records}, nil
		},
	}
	s := conveyor.NewSubmitter(NewBackend(client, "events"),
		conveyor.WithBackoff(conveyor.Backoff{}),
		conveyor.WithLimits(Limits),
	)

	builder := conveyor.NewBatchBuilder(Limits)
	for i := 0; i < 3; i++ {
		require.NoError(t, builder.AddEntryData([]byte(fmt.Sprint(i))))
	}
	outcomes, err := s.SubmitBatch(context.Background(), builder.Build())
	require.NoError(t, err)

	for i, o := range outcomes {
		assert.True(t, o.OK(), "outcome %d", i)
		assert.Equal(t, fmt.Sprintf("seq-%d", i), o.ID)
	}
	require.Len(t, client.inputs, 2)
	assert.Len(t, client.inputs[1].Records, 1)
	assert.Equal(t, "0", string(client.inputs[1].Records[0].Data))
}

func TestBackend_PutRecordByARN(t *testing.T) {
	client := &fakeClient{}
	b := NewBackend(client, "", WithStreamARN("arn:aws:kinesis:us-east-1:123456789012:stream/events"))

	seq, err := b.PutRecord(context.Background(), conveyor.Entry{Payload: []byte("x"), Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "seq-single", seq)
	assert.Nil(t, client.putRecord.StreamName)
	assert.Equal(t, "k", aws.ToString(client.putRecord.PartitionKey))
}

func TestLimits(t *testing.T) {
	require.NoError(t, Limits.Validate())
	b := conveyor.NewBatchBuilder(Limits, conveyor.WithKeyAssigner(nil))
	err := b.AddEntry(make([]byte, 999_999), conveyor.WithKey("ab"))
	assert.True(t, conveyor.IsEntryTooLarge(err))
}
