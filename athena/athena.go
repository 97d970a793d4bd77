// Package athena adapts Amazon Athena query executions to the conveyor
// Waiter. Source starts queries, reports their status, cancels them and
// reads their results.
package athena

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/internal/awserr"
)

// ErrInvalidStatus is returned when GetQueryExecution reports no state.
var ErrInvalidStatus = errors.New("athena: query execution has no state")

var classifier = awserr.Common.Merge(awserr.Classifier{
	Throttled: awserr.NewCodes("TooManyRequestsException"),
})

// Client is the subset of the Athena API used by Source.
type Client interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

var _ Client = (*athena.Client)(nil)

// Query describes a query to start.
type Query struct {
	SQL string

	Database string
	Catalog  string

	WorkGroup string

	// OutputLocation is the S3 URI for results. Empty uses the workgroup
	// setting.
	OutputLocation string

	// Params are positional values for ? placeholders in SQL.
	Params []string

	// ClientRequestToken makes StartQueryExecution idempotent. Empty
	// generates a random token.
	ClientRequestToken string
}

// Source implements conveyor.StatusSource, conveyor.Canceller and, through
// Starter, conveyor.Starter.
type Source struct {
	client Client
}

var (
	_ conveyor.StatusSource = (*Source)(nil)
	_ conveyor.Canceller    = (*Source)(nil)
)

// NewSource creates a Source.
// Panics if client is nil.
func NewSource(client Client) *Source {
	if client == nil {
		panic("athena: client cannot be nil")
	}
	return &Source{client: client}
}

// Start starts q and returns the query execution id.
func (s *Source) Start(ctx context.Context, q Query) (string, error) {
	token := q.ClientRequestToken
	if token == "" {
		token = uuid.NewString()
	}
	input := &athena.StartQueryExecutionInput{
		QueryString:        aws.String(q.SQL),
		ClientRequestToken: aws.String(token),
	}
	if q.Database != "" || q.Catalog != "" {
		input.QueryExecutionContext = &types.QueryExecutionContext{}
		if q.Database != "" {
			input.QueryExecutionContext.Database = aws.String(q.Database)
		}
		if q.Catalog != "" {
			input.QueryExecutionContext.Catalog = aws.String(q.Catalog)
		}
	}
	if q.OutputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(q.OutputLocation)}
	}
	if q.WorkGroup != "" {
		input.WorkGroup = aws.String(q.WorkGroup)
	}
	if len(q.Params) > 0 {
		input.ExecutionParameters = q.Params
	}

	out, err := s.client.StartQueryExecution(ctx, input)
	if err != nil {
		return "", classifier.Classify("athena: start query execution", err)
	}
	id := aws.ToString(out.QueryExecutionId)
	if id == "" {
		return "", errors.New("athena: start query execution returned no id")
	}
	return id, nil
}

// Starter returns a conveyor.Starter that starts q.
func (s *Source) Starter(q Query) conveyor.Starter {
	return conveyor.StarterFunc(func(ctx context.Context) (string, error) {
		return s.Start(ctx, q)
	})
}

// Status implements conveyor.StatusSource with GetQueryExecution.
func (s *Source) Status(ctx context.Context, operationID string) (conveyor.Status, error) {
	out, err := s.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(operationID),
	})
	if err != nil {
		return conveyor.Status{}, classifier.Classify("athena: get query execution", err)
	}
	qe := out.QueryExecution
	if qe == nil || qe.Status == nil {
		return conveyor.Status{}, ErrInvalidStatus
	}

	st := conveyor.Status{Detail: detail(qe.Status)}
	switch qe.Status.State {
	case types.QueryExecutionStateQueued:
		st.State = conveyor.StateSubmitted
	case types.QueryExecutionStateRunning:
		st.State = conveyor.StateRunning
	case types.QueryExecutionStateSucceeded:
		st.State = conveyor.StateSucceeded
		if qe.ResultConfiguration != nil {
			st.ResultLocation = aws.ToString(qe.ResultConfiguration.OutputLocation)
		}
	case types.QueryExecutionStateFailed:
		st.State = conveyor.StateFailed
	case types.QueryExecutionStateCancelled:
		st.State = conveyor.StateCancelled
	case "":
		return conveyor.Status{}, ErrInvalidStatus
	default:
		// States added to the API later are treated as in progress.
		st.State = conveyor.StateRunning
	}
	return st, nil
}

// Cancel implements conveyor.Canceller with StopQueryExecution.
func (s *Source) Cancel(ctx context.Context, operationID string) error {
	_, err := s.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(operationID),
	})
	return classifier.Classify("athena: stop query execution", err)
}

// Rows calls fn for every row of a succeeded query, page by page. The
// first row of a SELECT result holds the column names. Iteration stops at
// the first error from fn.
func (s *Source) Rows(ctx context.Context, operationID string, fn func(row []string) error) error {
	pages := athena.NewGetQueryResultsPaginator(s.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(operationID),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return classifier.Classify("athena: get query results", err)
		}
		if page.ResultSet == nil {
			return fmt.Errorf("athena: query %s returned no result set", operationID)
		}
		for _, r := range page.ResultSet.Rows {
			row := make([]string, len(r.Data))
			for i, d := range r.Data {
				row[i] = aws.ToString(d.VarCharValue)
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func detail(st *types.QueryExecutionStatus) string {
	if st.AthenaError != nil && st.AthenaError.ErrorMessage != nil {
		return aws.ToString(st.AthenaError.ErrorMessage)
	}
	return aws.ToString(st.StateChangeReason)
}
