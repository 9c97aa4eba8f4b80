// Package resource defines the resource kinds the sync engine can mirror and
// the raw record shape connectors produce for them.
package resource

import (
	"github.com/cloudpivot/metamirror/pkg/errors"
)

// RawRecord is one unmodified item from a single source API page. Keys are
// snake_case field names; values may be scalars, timestamps, or nested
// maps/slices that the normalizer flattens.
type RawRecord map[string]interface{}

// Kind identifies which cloud resource type a record represents
type Kind string

const (
	KindS3Object               Kind = "s3-object"
	KindGlueJob                Kind = "glue-job"
	KindGlueJobRun             Kind = "glue-job-run"
	KindCatalogTable           Kind = "catalog-table"
	KindAthenaQueryError       Kind = "athena-query-error"
	KindSageMakerTrainingJob   Kind = "sagemaker-training-job"
	KindSageMakerProcessingJob Kind = "sagemaker-processing-job"
	KindSageMakerTransformJob  Kind = "sagemaker-transform-job"
	KindSageMakerPipelineExec  Kind = "sagemaker-pipeline-execution"
	KindStepFunctionExecution  Kind = "stepfunction-execution"
	KindCloudFormationStack    Kind = "cloudformation-stack"
	KindKinesisStream          Kind = "kinesis-stream"
)

// Mode is the materialization strategy for a kind's stored table
type Mode string

const (
	// ModeReplace swaps in a full point-in-time snapshot
	ModeReplace Mode = "replace"
	// ModeUpsert merges by natural key, retaining rows unseen in the current run
	ModeUpsert Mode = "upsert"
)

type spec struct {
	table     string
	key       string
	watermark string
	mode      Mode
}

var specs = map[Kind]spec{
	KindS3Object:               {table: "s3_objects", key: "key", watermark: "last_modified", mode: ModeUpsert},
	KindGlueJob:                {table: "glue_jobs", key: "name", watermark: "last_modified_on", mode: ModeUpsert},
	KindGlueJobRun:             {table: "glue_job_runs", key: "run_id", watermark: "started_on", mode: ModeUpsert},
	KindCatalogTable:           {table: "catalog_tables", key: "name", watermark: "create_time", mode: ModeReplace},
	KindAthenaQueryError:       {table: "athena_query_errors", key: "query_id", watermark: "submission_time", mode: ModeUpsert},
	KindSageMakerTrainingJob:   {table: "sagemaker_training_jobs", key: "training_job_name", watermark: "creation_time", mode: ModeUpsert},
	KindSageMakerProcessingJob: {table: "sagemaker_processing_jobs", key: "processing_job_name", watermark: "creation_time", mode: ModeUpsert},
	KindSageMakerTransformJob:  {table: "sagemaker_transform_jobs", key: "transform_job_name", watermark: "creation_time", mode: ModeUpsert},
	KindSageMakerPipelineExec:  {table: "sagemaker_pipeline_executions", key: "execution_arn", watermark: "start_time", mode: ModeUpsert},
	KindStepFunctionExecution:  {table: "stepfunction_executions", key: "execution_arn", watermark: "start_date", mode: ModeUpsert},
	KindCloudFormationStack:    {table: "cloudformation_stacks", key: "stack_id", watermark: "creation_time", mode: ModeUpsert},
	KindKinesisStream:          {table: "kinesis_streams", key: "stream_name", watermark: "", mode: ModeReplace},
}

// All returns every known kind in a stable order
func All() []Kind {
	return []Kind{
		KindS3Object,
		KindGlueJob,
		KindGlueJobRun,
		KindCatalogTable,
		KindAthenaQueryError,
		KindSageMakerTrainingJob,
		KindSageMakerProcessingJob,
		KindSageMakerTransformJob,
		KindSageMakerPipelineExec,
		KindStepFunctionExecution,
		KindCloudFormationStack,
		KindKinesisStream,
	}
}

// Parse converts a CLI/config string into a Kind
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := specs[k]; !ok {
		return "", errors.New(errors.ErrorTypeValidation, "unknown resource kind").WithDetail("kind", s)
	}
	return k, nil
}

// Valid reports whether the kind is known
func (k Kind) Valid() bool {
	_, ok := specs[k]
	return ok
}

// TableName returns the base storage table name for the kind
func (k Kind) TableName() string {
	return specs[k].table
}

// NaturalKey returns the column that uniquely identifies a resource instance
// across syncs
func (k Kind) NaturalKey() string {
	return specs[k].key
}

// WatermarkColumn returns the normalized column used as the incremental sync
// watermark, or "" when the kind's listing carries no per-item timestamp
func (k Kind) WatermarkColumn() string {
	return specs[k].watermark
}

// Mode returns the materialization strategy for the kind
func (k Kind) Mode() Mode {
	return specs[k].mode
}

func (k Kind) String() string {
	return string(k)
}
