package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// SFNAPI is the subset of the Step Functions client used by the execution connector
type SFNAPI interface {
	ListStateMachines(ctx context.Context, params *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	ListExecutions(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
}

// StepFunctionExecutions lists executions per state machine. When the scope
// names a machine only that one is listed, otherwise ListStateMachines
// enumerates them first (describe-then-paginate-children). The status filter
// is evaluated server-side; executions come back newest first, so paging
// stops at the first execution older than the watermark.
type StepFunctionExecutions struct {
	api SFNAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewStepFunctionExecutions creates the execution listing connector
func NewStepFunctionExecutions(api SFNAPI, pg *pager.Pager) *StepFunctionExecutions {
	return &StepFunctionExecutions{api: api, pg: pg, log: logger.With(zap.String("connector", "stepfunction-executions"))}
}

func (c *StepFunctionExecutions) Kind() resource.Kind { return resource.KindStepFunctionExecution }

func (c *StepFunctionExecutions) List(ctx context.Context, scope Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	machines := []string{scope.StateMachineARN}
	if scope.StateMachineARN == "" {
		var err error
		machines, err = c.listMachines(ctx)
		if err != nil {
			return err
		}
	}

	for _, arn := range machines {
		if err := c.listExecutions(ctx, arn, filter, since, emit); err != nil {
			return err
		}
	}
	return nil
}

func (c *StepFunctionExecutions) listMachines(ctx context.Context) ([]string, error) {
	arns := make([]string, 0, 16)

	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListStateMachines(ctx, &sfn.ListStateMachinesInput{NextToken: token})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListStateMachines failed")
		}
		records := make([]resource.RawRecord, 0, len(out.StateMachines))
		for _, sm := range out.StateMachines {
			records = append(records, resource.RawRecord{"arn": aws.ToString(sm.StateMachineArn)})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	err := c.pg.Each(ctx, c.Kind(), fetch, func(rec resource.RawRecord) error {
		if arn, ok := rec["arn"].(string); ok && arn != "" {
			arns = append(arns, arn)
		}
		return nil
	})
	return arns, err
}

func (c *StepFunctionExecutions) listExecutions(ctx context.Context, machineARN string, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		in := &sfn.ListExecutionsInput{
			StateMachineArn: aws.String(machineARN),
			NextToken:       token,
		}
		if filter.Status != "" {
			in.StatusFilter = types.ExecutionStatus(filter.Status)
		}

		out, err := c.api.ListExecutions(ctx, in)
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListExecutions failed")
		}

		records := make([]resource.RawRecord, 0, len(out.Executions))
		next := out.NextToken
		for _, exec := range out.Executions {
			if aws.ToString(exec.ExecutionArn) == "" {
				c.log.Warn("skipping execution without an arn", zap.String("state_machine", machineARN))
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			if since != nil && exec.StartDate != nil && exec.StartDate.Before(*since) {
				next = nil
				break
			}
			records = append(records, resource.RawRecord{
				"execution_arn":     aws.ToString(exec.ExecutionArn),
				"name":              aws.ToString(exec.Name),
				"state_machine_arn": aws.ToString(exec.StateMachineArn),
				"status":            string(exec.Status),
				"start_date":        exec.StartDate,
				"stop_date":         exec.StopDate,
			})
		}
		return pager.Page{Records: records, NextToken: next}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}
