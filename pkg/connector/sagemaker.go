package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// SageMakerAPI is the subset of the SageMaker client used by the job and
// pipeline connectors
type SageMakerAPI interface {
	ListTrainingJobs(ctx context.Context, params *sagemaker.ListTrainingJobsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListTrainingJobsOutput, error)
	ListProcessingJobs(ctx context.Context, params *sagemaker.ListProcessingJobsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListProcessingJobsOutput, error)
	ListTransformJobs(ctx context.Context, params *sagemaker.ListTransformJobsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListTransformJobsOutput, error)
	ListPipelines(ctx context.Context, params *sagemaker.ListPipelinesInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListPipelinesOutput, error)
	ListPipelineExecutions(ctx context.Context, params *sagemaker.ListPipelineExecutionsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListPipelineExecutionsOutput, error)
}

// SageMaker job listings support server-side time narrowing: when since is
// set, CreationTimeAfter bounds the first request so incremental syncs only
// fetch jobs created after the watermark.

// TrainingJobs lists SageMaker training jobs
type TrainingJobs struct {
	api SageMakerAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewTrainingJobs creates the training job listing connector
func NewTrainingJobs(api SageMakerAPI, pg *pager.Pager) *TrainingJobs {
	return &TrainingJobs{api: api, pg: pg, log: logger.With(zap.String("connector", "sagemaker-training-jobs"))}
}

func (c *TrainingJobs) Kind() resource.Kind { return resource.KindSageMakerTrainingJob }

func (c *TrainingJobs) List(ctx context.Context, _ Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListTrainingJobs(ctx, &sagemaker.ListTrainingJobsInput{
			NextToken:         token,
			NameContains:      optString(filter.NameContains),
			CreationTimeAfter: since,
			SortBy:            types.SortByCreationTime,
			SortOrder:         types.SortOrderDescending,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListTrainingJobs failed")
		}

		records := make([]resource.RawRecord, 0, len(out.TrainingJobSummaries))
		for _, job := range out.TrainingJobSummaries {
			if aws.ToString(job.TrainingJobName) == "" {
				c.log.Warn("skipping training job without a name")
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"training_job_name":  aws.ToString(job.TrainingJobName),
				"training_job_arn":   aws.ToString(job.TrainingJobArn),
				"status":             string(job.TrainingJobStatus),
				"creation_time":      job.CreationTime,
				"training_end_time":  job.TrainingEndTime,
				"last_modified_time": job.LastModifiedTime,
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

// ProcessingJobs lists SageMaker processing jobs
type ProcessingJobs struct {
	api SageMakerAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewProcessingJobs creates the processing job listing connector
func NewProcessingJobs(api SageMakerAPI, pg *pager.Pager) *ProcessingJobs {
	return &ProcessingJobs{api: api, pg: pg, log: logger.With(zap.String("connector", "sagemaker-processing-jobs"))}
}

func (c *ProcessingJobs) Kind() resource.Kind { return resource.KindSageMakerProcessingJob }

func (c *ProcessingJobs) List(ctx context.Context, _ Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListProcessingJobs(ctx, &sagemaker.ListProcessingJobsInput{
			NextToken:         token,
			NameContains:      optString(filter.NameContains),
			CreationTimeAfter: since,
			SortBy:            types.SortByCreationTime,
			SortOrder:         types.SortOrderDescending,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListProcessingJobs failed")
		}

		records := make([]resource.RawRecord, 0, len(out.ProcessingJobSummaries))
		for _, job := range out.ProcessingJobSummaries {
			if aws.ToString(job.ProcessingJobName) == "" {
				c.log.Warn("skipping processing job without a name")
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"processing_job_name": aws.ToString(job.ProcessingJobName),
				"processing_job_arn":  aws.ToString(job.ProcessingJobArn),
				"status":              string(job.ProcessingJobStatus),
				"creation_time":       job.CreationTime,
				"processing_end_time": job.ProcessingEndTime,
				"last_modified_time":  job.LastModifiedTime,
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

// TransformJobs lists SageMaker batch transform jobs
type TransformJobs struct {
	api SageMakerAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewTransformJobs creates the transform job listing connector
func NewTransformJobs(api SageMakerAPI, pg *pager.Pager) *TransformJobs {
	return &TransformJobs{api: api, pg: pg, log: logger.With(zap.String("connector", "sagemaker-transform-jobs"))}
}

func (c *TransformJobs) Kind() resource.Kind { return resource.KindSageMakerTransformJob }

func (c *TransformJobs) List(ctx context.Context, _ Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListTransformJobs(ctx, &sagemaker.ListTransformJobsInput{
			NextToken:         token,
			NameContains:      optString(filter.NameContains),
			CreationTimeAfter: since,
			SortBy:            types.SortByCreationTime,
			SortOrder:         types.SortOrderDescending,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListTransformJobs failed")
		}

		records := make([]resource.RawRecord, 0, len(out.TransformJobSummaries))
		for _, job := range out.TransformJobSummaries {
			if aws.ToString(job.TransformJobName) == "" {
				c.log.Warn("skipping transform job without a name")
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"transform_job_name": aws.ToString(job.TransformJobName),
				"transform_job_arn":  aws.ToString(job.TransformJobArn),
				"status":             string(job.TransformJobStatus),
				"creation_time":      job.CreationTime,
				"transform_end_time": job.TransformEndTime,
				"last_modified_time": job.LastModifiedTime,
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

// PipelineExecutions lists executions per SageMaker pipeline. When the scope
// names a pipeline only that one is listed, otherwise ListPipelines enumerates
// them first (describe-then-paginate-children). Executions are requested
// newest first, so paging stops at the first execution started before the
// watermark.
type PipelineExecutions struct {
	api SageMakerAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewPipelineExecutions creates the pipeline execution listing connector
func NewPipelineExecutions(api SageMakerAPI, pg *pager.Pager) *PipelineExecutions {
	return &PipelineExecutions{api: api, pg: pg, log: logger.With(zap.String("connector", "sagemaker-pipeline-executions"))}
}

func (c *PipelineExecutions) Kind() resource.Kind { return resource.KindSageMakerPipelineExec }

func (c *PipelineExecutions) List(ctx context.Context, scope Scope, _ Filter, since *time.Time, emit pager.EmitFunc) error {
	pipelines := []string{scope.Pipeline}
	if scope.Pipeline == "" {
		var err error
		pipelines, err = c.listPipelines(ctx)
		if err != nil {
			return err
		}
	}

	for _, name := range pipelines {
		if err := c.listExecutions(ctx, name, since, emit); err != nil {
			return err
		}
	}
	return nil
}

func (c *PipelineExecutions) listPipelines(ctx context.Context) ([]string, error) {
	names := make([]string, 0, 16)

	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListPipelines(ctx, &sagemaker.ListPipelinesInput{NextToken: token})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListPipelines failed")
		}
		records := make([]resource.RawRecord, 0, len(out.PipelineSummaries))
		for _, p := range out.PipelineSummaries {
			records = append(records, resource.RawRecord{"name": aws.ToString(p.PipelineName)})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	err := c.pg.Each(ctx, c.Kind(), fetch, func(rec resource.RawRecord) error {
		if name, ok := rec["name"].(string); ok && name != "" {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

func (c *PipelineExecutions) listExecutions(ctx context.Context, pipeline string, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListPipelineExecutions(ctx, &sagemaker.ListPipelineExecutionsInput{
			PipelineName: aws.String(pipeline),
			NextToken:    token,
			SortBy:       types.SortPipelineExecutionsByCreationTime,
			SortOrder:    types.SortOrderDescending,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListPipelineExecutions failed")
		}

		records := make([]resource.RawRecord, 0, len(out.PipelineExecutionSummaries))
		next := out.NextToken
		for _, exec := range out.PipelineExecutionSummaries {
			if aws.ToString(exec.PipelineExecutionArn) == "" {
				c.log.Warn("skipping pipeline execution without an arn", zap.String("pipeline", pipeline))
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			if since != nil && exec.StartTime != nil && exec.StartTime.Before(*since) {
				next = nil
				break
			}
			records = append(records, resource.RawRecord{
				"execution_arn":  aws.ToString(exec.PipelineExecutionArn),
				"pipeline_name":  pipeline,
				"display_name":   aws.ToString(exec.PipelineExecutionDisplayName),
				"status":         string(exec.PipelineExecutionStatus),
				"start_time":     exec.StartTime,
				"failure_reason": aws.ToString(exec.PipelineExecutionFailureReason),
			})
		}
		return pager.Page{Records: records, NextToken: next}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}
