package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfanmomeniii/conveyor"
	athenasrc "github.com/erfanmomeniii/conveyor/athena"
	"github.com/erfanmomeniii/conveyor/config"
)

type recordingBackend struct {
	mu      sync.Mutex
	entries []conveyor.Entry
	reject  bool
	closed  bool

	// throttleCalls is the number of leading calls answered with a
	// throttling failure for every entry.
	throttleCalls int
	calls         int
}

func (b *recordingBackend) Submit(ctx context.Context, entries []conveyor.Entry) ([]conveyor.RawResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	results := make([]conveyor.RawResult, len(entries))
	for i, e := range entries {
		if b.calls <= b.throttleCalls {
			results[i] = conveyor.Rejected(conveyor.CodeThrottled, "slow down", true)
			continue
		}
		if b.reject {
			results[i] = conveyor.Rejected("Invalid", "rejected", false)
			continue
		}
		b.entries = append(b.entries, e)
		results[i] = conveyor.Accepted(string(e.Payload))
	}
	return results, nil
}

type fakeAthena struct {
	mu       sync.Mutex
	started  *athena.StartQueryExecutionInput
	stopped  []string
	polls    int
	statuses []types.QueryExecutionState
}

func (f *fakeAthena) StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = in
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qe-7")}, nil
}

func (f *fakeAthena) GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		QueryExecutionId:    in.QueryExecutionId,
		Status:              &types.QueryExecutionStatus{State: f.statuses[i]},
		ResultConfiguration: &types.ResultConfiguration{OutputLocation: aws.String("s3://results/qe-7.csv")},
	}}, nil
}

func (f *fakeAthena) StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, aws.ToString(in.QueryExecutionId))
	return &athena.StopQueryExecutionOutput{}, nil
}

func (f *fakeAthena) GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	row := func(values ...string) types.Row {
		var r types.Row
		for _, v := range values {
			r.Data = append(r.Data, types.Datum{VarCharValue: aws.String(v)})
		}
		return r
	}
	return &athena.GetQueryResultsOutput{ResultSet: &types.ResultSet{
		Rows: []types.Row{row("day", "count"), row("2024-01-01", "42")},
	}}, nil
}

func testDeps(backend *recordingBackend, client *fakeAthena) Deps {
	return Deps{
		NewBackend: func(ctx context.Context, cfg *config.Config) (conveyor.Backend, func() error, error) {
			return backend, func() error {
				backend.closed = true
				return nil
			}, nil
		},
		NewAthena: func(ctx context.Context, cfg *config.Config) (athenasrc.Client, error) {
			return client, nil
		},
		Registry: prometheus.NewRegistry(),
	}
}

func run(t *testing.T, deps Deps, stdin string, args ...string) (string, error) {
	t.Helper()
	if _, ok := os.LookupEnv("CONVEYOR_BACKEND"); !ok {
		t.Setenv("CONVEYOR_BACKEND", "sqs")
	}
	if _, ok := os.LookupEnv("CONVEYOR_TARGET"); !ok {
		t.Setenv("CONVEYOR_TARGET", "https://sqs.us-east-1.amazonaws.com/123456789012/events")
	}

	root := NewRoot(deps)
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPut(t *testing.T) {
	backend := &recordingBackend{}
	out, err := run(t, testDeps(backend, nil), "first\nsecond\n\nthird\n", "put", "--attr", "team=core")
	require.NoError(t, err)

	assert.Contains(t, out, "sent 3 of 3 entries")
	assert.True(t, backend.closed)
	require.Len(t, backend.entries, 3)

	var payloads []string
	for _, e := range backend.entries {
		payloads = append(payloads, string(e.Payload))
		assert.Equal(t, map[string]string{"team": "core"}, e.Attributes)
	}
	assert.ElementsMatch(t, []string{"first", "second", "third"}, payloads)
}

func TestPut_ReportsFailures(t *testing.T) {
	backend := &recordingBackend{reject: true}
	out, err := run(t, testDeps(backend, nil), "a\nb\n", "put")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "2 of 2 entries failed")
	assert.Contains(t, out, "2 failed with Invalid")
}

func TestPut_OversizedLineFailsAlone(t *testing.T) {
	backend := &recordingBackend{}
	big := strings.Repeat("x", 300*1024)
	out, err := run(t, testDeps(backend, nil), "first\n"+big+"\nlast\n", "put")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "1 of 3 entries failed")
	assert.Contains(t, out, "1 failed with "+conveyor.CodeEntryTooLarge)
	require.Len(t, backend.entries, 2)
	assert.ElementsMatch(t, []string{"first", "last"},
		[]string{string(backend.entries[0].Payload), string(backend.entries[1].Payload)})
}

func TestPut_FIFOQueue(t *testing.T) {
	t.Setenv("CONVEYOR_TARGET", "https://sqs.us-east-1.amazonaws.com/123456789012/orders.fifo")
	backend := &recordingBackend{}
	_, err := run(t, testDeps(backend, nil), "a\nb\n", "put", "--key", "customer-1")
	require.NoError(t, err)

	require.Len(t, backend.entries, 2)
	for _, e := range backend.entries {
		assert.Equal(t, "customer-1", e.Key)
		assert.Len(t, e.DedupID, 64)
	}
	assert.NotEqual(t, backend.entries[0].DedupID, backend.entries[1].DedupID)
}

func TestPut_Redrive(t *testing.T) {
	t.Setenv("CONVEYOR_MAX_ATTEMPTS", "1")
	backend := &recordingBackend{throttleCalls: 1}
	out, err := run(t, testDeps(backend, nil), "a\nb\n", "put", "--redrive")
	require.NoError(t, err)

	assert.Contains(t, out, "sent 2 of 2 entries")
	assert.NotContains(t, out, "failed with")
	assert.Len(t, backend.entries, 2)
}

func TestPut_RateLimited(t *testing.T) {
	t.Setenv("CONVEYOR_RATE_LIMIT", "1000")
	backend := &recordingBackend{}
	_, err := run(t, testDeps(backend, nil), "a\nb\nc\n", "put")
	require.NoError(t, err)
	assert.Len(t, backend.entries, 3)
}

func TestPut_InvalidAttribute(t *testing.T) {
	_, err := run(t, testDeps(&recordingBackend{}, nil), "a\n", "put", "--attr", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid attribute")
}

func TestQuery(t *testing.T) {
	client := &fakeAthena{statuses: []types.QueryExecutionState{
		types.QueryExecutionStateQueued,
		types.QueryExecutionStateRunning,
		types.QueryExecutionStateSucceeded,
	}}
	out, err := run(t, testDeps(nil, client), "",
		"query", "SELECT day, count(*) FROM events WHERE day = ?",
		"--database", "analytics",
		"--param", "'2024-01-01'",
		"--poll-interval", "1ms",
		"--print",
	)
	require.NoError(t, err)

	assert.Equal(t, "analytics", aws.ToString(client.started.QueryExecutionContext.Database))
	assert.Equal(t, []string{"'2024-01-01'"}, client.started.ExecutionParameters)
	assert.Equal(t, 3, client.polls)

	assert.Contains(t, out, "started qe-7")
	assert.Contains(t, out, "qe-7 succeeded")
	assert.Contains(t, out, "after 3 polls")
	assert.Contains(t, out, "results: s3://results/qe-7.csv")
	assert.Contains(t, out, "day,count\n2024-01-01,42\n")
}

func TestQuery_NoWait(t *testing.T) {
	client := &fakeAthena{statuses: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	out, err := run(t, testDeps(nil, client), "", "query", "SELECT 1", "--no-wait")
	require.NoError(t, err)

	assert.Equal(t, "started qe-7\n", out)
	assert.Zero(t, client.polls)
}

func TestWait_Failed(t *testing.T) {
	client := &fakeAthena{statuses: []types.QueryExecutionState{types.QueryExecutionStateFailed}}
	_, err := run(t, testDeps(nil, client), "", "wait", "qe-7", "--poll-interval", "1ms")
	require.Error(t, err)

	var opErr *conveyor.OperationError
	assert.True(t, errors.As(err, &opErr))
}

func TestWait_TimeoutCancels(t *testing.T) {
	client := &fakeAthena{statuses: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	_, err := run(t, testDeps(nil, client), "",
		"wait", "qe-7", "--timeout", "5ms", "--poll-interval", "1ms", "--cancel-on-timeout")
	require.ErrorIs(t, err, conveyor.ErrTimedOut)
	assert.Equal(t, []string{"qe-7"}, client.stopped)
}

func TestCancel(t *testing.T) {
	client := &fakeAthena{}
	out, err := run(t, testDeps(nil, client), "", "cancel", "qe-7")
	require.NoError(t, err)

	assert.Equal(t, "cancelled qe-7\n", out)
	assert.Equal(t, []string{"qe-7"}, client.stopped)
}

func TestParseAttributes(t *testing.T) {
	m, err := parseAttributes([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, m)

	m, err = parseAttributes(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = parseAttributes([]string{"=v"})
	assert.Error(t, err)
}
