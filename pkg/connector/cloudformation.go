package connector

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// CloudFormationAPI is the subset of the CloudFormation client used by the stack connector
type CloudFormationAPI interface {
	ListStacks(ctx context.Context, params *cloudformation.ListStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStacksOutput, error)
}

// CloudFormationStacks lists stack summaries. The service offers neither a
// name-prefix nor a time filter, so the prefix is applied here and the
// watermark client-side by the controller.
type CloudFormationStacks struct {
	api CloudFormationAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewCloudFormationStacks creates the stack listing connector
func NewCloudFormationStacks(api CloudFormationAPI, pg *pager.Pager) *CloudFormationStacks {
	return &CloudFormationStacks{api: api, pg: pg, log: logger.With(zap.String("connector", "cloudformation-stacks"))}
}

func (c *CloudFormationStacks) Kind() resource.Kind { return resource.KindCloudFormationStack }

func (c *CloudFormationStacks) List(ctx context.Context, _ Scope, filter Filter, _ *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListStacks(ctx, &cloudformation.ListStacksInput{NextToken: token})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListStacks failed")
		}

		records := make([]resource.RawRecord, 0, len(out.StackSummaries))
		for _, stack := range out.StackSummaries {
			if aws.ToString(stack.StackId) == "" {
				c.log.Warn("skipping stack without an id")
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			if filter.Prefix != "" && !strings.HasPrefix(aws.ToString(stack.StackName), filter.Prefix) {
				continue
			}
			records = append(records, resource.RawRecord{
				"stack_id":             aws.ToString(stack.StackId),
				"stack_name":           aws.ToString(stack.StackName),
				"stack_status":         string(stack.StackStatus),
				"creation_time":        stack.CreationTime,
				"last_updated_time":    stack.LastUpdatedTime,
				"deletion_time":        stack.DeletionTime,
				"stack_status_reason":  aws.ToString(stack.StackStatusReason),
				"template_description": aws.ToString(stack.TemplateDescription),
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}
