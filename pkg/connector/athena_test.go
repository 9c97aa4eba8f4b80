package connector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/resource"
)

type fakeAthena struct {
	tables     []athenatypes.TableMetadata
	listPages  map[string]*athena.ListQueryExecutionsOutput
	executions map[string]athenatypes.QueryExecution

	workgroups []string
	batchSizes []int
}

func (f *fakeAthena) ListTableMetadata(ctx context.Context, params *athena.ListTableMetadataInput, optFns ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error) {
	return &athena.ListTableMetadataOutput{TableMetadataList: f.tables}, nil
}

func (f *fakeAthena) ListQueryExecutions(ctx context.Context, params *athena.ListQueryExecutionsInput, optFns ...func(*athena.Options)) (*athena.ListQueryExecutionsOutput, error) {
	f.workgroups = append(f.workgroups, aws.ToString(params.WorkGroup))
	return f.listPages[aws.ToString(params.NextToken)], nil
}

func (f *fakeAthena) BatchGetQueryExecution(ctx context.Context, params *athena.BatchGetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.BatchGetQueryExecutionOutput, error) {
	f.batchSizes = append(f.batchSizes, len(params.QueryExecutionIds))
	out := &athena.BatchGetQueryExecutionOutput{}
	for _, id := range params.QueryExecutionIds {
		if qe, ok := f.executions[id]; ok {
			out.QueryExecutions = append(out.QueryExecutions, qe)
		}
	}
	return out, nil
}

func queryExecution(id string, state athenatypes.QueryExecutionState, submitted time.Time, reason string) athenatypes.QueryExecution {
	return athenatypes.QueryExecution{
		QueryExecutionId: aws.String(id),
		WorkGroup:        aws.String("primary"),
		Status: &athenatypes.QueryExecutionStatus{
			State:              state,
			SubmissionDateTime: aws.Time(submitted),
			CompletionDateTime: aws.Time(submitted.Add(time.Minute)),
			StateChangeReason:  optString(reason),
		},
	}
}

func TestCatalogTablesRequiresScope(t *testing.T) {
	conn := NewCatalogTables(&fakeAthena{}, testPager())
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(resource.RawRecord) error { return nil })
	require.Error(t, err)
}

func TestAthenaQueryErrorsKeepsOnlyFailed(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeAthena{
		listPages: map[string]*athena.ListQueryExecutionsOutput{
			"": {
				QueryExecutionIds: []string{"q1", "q2"},
				NextToken:         aws.String("tok-2"),
			},
			"tok-2": {
				QueryExecutionIds: []string{"q3"},
			},
		},
		executions: map[string]athenatypes.QueryExecution{
			"q1": queryExecution("q1", athenatypes.QueryExecutionStateFailed, now.Add(-time.Hour), "SYNTAX_ERROR"),
			"q2": queryExecution("q2", athenatypes.QueryExecutionStateSucceeded, now.Add(-time.Hour), ""),
			"q3": queryExecution("q3", athenatypes.QueryExecutionStateFailed, now.Add(-2*time.Hour), "TABLE_NOT_FOUND"),
		},
	}

	conn := NewAthenaQueryErrors(api, testPager())
	var got []string
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(rec resource.RawRecord) error {
			got = append(got, rec["query_id"].(string)+":"+rec["failure_reason"].(string))
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"q1:SYNTAX_ERROR", "q3:TABLE_NOT_FOUND"}, got)
	// No workgroup in scope falls back to the service default.
	assert.Equal(t, []string{"primary", "primary"}, api.workgroups)
}

func TestAthenaQueryErrorsScopedWorkgroup(t *testing.T) {
	api := &fakeAthena{
		listPages: map[string]*athena.ListQueryExecutionsOutput{
			"": {QueryExecutionIds: []string{}},
		},
	}

	conn := NewAthenaQueryErrors(api, testPager())
	err := conn.List(context.Background(), Scope{Workgroup: "analytics"}, Filter{}, nil,
		func(resource.RawRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics"}, api.workgroups)
}

func TestAthenaQueryErrorsChunksBatchLookups(t *testing.T) {
	now := time.Now().UTC()
	ids := make([]string, 0, batchGetLimit+10)
	executions := make(map[string]athenatypes.QueryExecution, batchGetLimit+10)
	for i := 0; i < batchGetLimit+10; i++ {
		id := fmt.Sprintf("q%03d", i)
		ids = append(ids, id)
		executions[id] = queryExecution(id, athenatypes.QueryExecutionStateFailed, now, "OOM")
	}
	api := &fakeAthena{
		listPages:  map[string]*athena.ListQueryExecutionsOutput{"": {QueryExecutionIds: ids}},
		executions: executions,
	}

	conn := NewAthenaQueryErrors(api, testPager())
	count := 0
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(resource.RawRecord) error {
			count++
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, batchGetLimit+10, count)
	assert.Equal(t, []int{batchGetLimit, 10}, api.batchSizes)
}
