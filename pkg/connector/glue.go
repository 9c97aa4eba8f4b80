package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// GlueAPI is the subset of the Glue client used by the job connectors
type GlueAPI interface {
	GetJobs(ctx context.Context, params *glue.GetJobsInput, optFns ...func(*glue.Options)) (*glue.GetJobsOutput, error)
	GetJobRuns(ctx context.Context, params *glue.GetJobRunsInput, optFns ...func(*glue.Options)) (*glue.GetJobRunsOutput, error)
}

// GlueJobs lists job definitions via GetJobs
type GlueJobs struct {
	api GlueAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewGlueJobs creates the Glue job listing connector
func NewGlueJobs(api GlueAPI, pg *pager.Pager) *GlueJobs {
	return &GlueJobs{api: api, pg: pg, log: logger.With(zap.String("connector", "glue-jobs"))}
}

func (c *GlueJobs) Kind() resource.Kind { return resource.KindGlueJob }

func (c *GlueJobs) List(ctx context.Context, _ Scope, _ Filter, _ *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.GetJobs(ctx, &glue.GetJobsInput{NextToken: token})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "GetJobs failed")
		}

		records := make([]resource.RawRecord, 0, len(out.Jobs))
		for _, job := range out.Jobs {
			if aws.ToString(job.Name) == "" {
				c.log.Warn("skipping glue job without a name")
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"name":              aws.ToString(job.Name),
				"role":              aws.ToString(job.Role),
				"created_on":        job.CreatedOn,
				"last_modified_on":  job.LastModifiedOn,
				"max_capacity":      aws.ToFloat64(job.MaxCapacity),
				"worker_type":       string(job.WorkerType),
				"number_of_workers": aws.ToInt32(job.NumberOfWorkers),
				"glue_version":      aws.ToString(job.GlueVersion),
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

// GlueJobRuns lists runs for every job: GetJobs to enumerate job names, then
// GetJobRuns per job (describe-then-paginate-children). The service returns
// runs newest first and offers no time filter, so when since is set paging of
// a job stops at the first run older than the watermark.
type GlueJobRuns struct {
	api GlueAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewGlueJobRuns creates the Glue job run listing connector
func NewGlueJobRuns(api GlueAPI, pg *pager.Pager) *GlueJobRuns {
	return &GlueJobRuns{api: api, pg: pg, log: logger.With(zap.String("connector", "glue-job-runs"))}
}

func (c *GlueJobRuns) Kind() resource.Kind { return resource.KindGlueJobRun }

func (c *GlueJobRuns) List(ctx context.Context, scope Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error {
	jobNames := make([]string, 0, 64)
	collect := func(rec resource.RawRecord) error {
		if name, ok := rec["name"].(string); ok && name != "" {
			jobNames = append(jobNames, name)
		}
		return nil
	}

	jobs := NewGlueJobs(c.api, c.pg)
	if err := jobs.List(ctx, scope, filter, nil, collect); err != nil {
		return err
	}

	for _, jobName := range jobNames {
		if err := c.listRuns(ctx, jobName, since, emit); err != nil {
			return err
		}
	}
	return nil
}

func (c *GlueJobRuns) listRuns(ctx context.Context, jobName string, since *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.GetJobRuns(ctx, &glue.GetJobRunsInput{
			JobName:   aws.String(jobName),
			NextToken: token,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "GetJobRuns failed")
		}

		records := make([]resource.RawRecord, 0, len(out.JobRuns))
		next := out.NextToken
		for _, run := range out.JobRuns {
			if aws.ToString(run.Id) == "" {
				c.log.Warn("skipping glue job run without an id", zap.String("job_name", jobName))
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			if since != nil && run.StartedOn != nil && run.StartedOn.Before(*since) {
				// Runs are newest first; everything past this point predates
				// the watermark.
				next = nil
				break
			}
			records = append(records, resource.RawRecord{
				"run_id":         aws.ToString(run.Id),
				"job_name":       jobName,
				"status":         string(run.JobRunState),
				"started_on":     run.StartedOn,
				"completed_on":   run.CompletedOn,
				"execution_time": run.ExecutionTime,
				"attempt":        run.Attempt,
				"error_message":  aws.ToString(run.ErrorMessage),
			})
		}
		return pager.Page{Records: records, NextToken: next}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}
