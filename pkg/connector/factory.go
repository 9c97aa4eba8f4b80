package connector

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// New builds the connector for a resource kind from shared AWS configuration
func New(kind resource.Kind, cfg aws.Config, pg *pager.Pager) (Connector, error) {
	switch kind {
	case resource.KindS3Object:
		return NewS3Objects(s3.NewFromConfig(cfg), pg), nil
	case resource.KindGlueJob:
		return NewGlueJobs(glue.NewFromConfig(cfg), pg), nil
	case resource.KindGlueJobRun:
		return NewGlueJobRuns(glue.NewFromConfig(cfg), pg), nil
	case resource.KindCatalogTable:
		return NewCatalogTables(athena.NewFromConfig(cfg), pg), nil
	case resource.KindAthenaQueryError:
		return NewAthenaQueryErrors(athena.NewFromConfig(cfg), pg), nil
	case resource.KindSageMakerTrainingJob:
		return NewTrainingJobs(sagemaker.NewFromConfig(cfg), pg), nil
	case resource.KindSageMakerProcessingJob:
		return NewProcessingJobs(sagemaker.NewFromConfig(cfg), pg), nil
	case resource.KindSageMakerTransformJob:
		return NewTransformJobs(sagemaker.NewFromConfig(cfg), pg), nil
	case resource.KindSageMakerPipelineExec:
		return NewPipelineExecutions(sagemaker.NewFromConfig(cfg), pg), nil
	case resource.KindStepFunctionExecution:
		return NewStepFunctionExecutions(sfn.NewFromConfig(cfg), pg), nil
	case resource.KindCloudFormationStack:
		return NewCloudFormationStacks(cloudformation.NewFromConfig(cfg), pg), nil
	case resource.KindKinesisStream:
		return NewKinesisStreams(kinesis.NewFromConfig(cfg), pg), nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "no connector for resource kind").WithDetail("kind", kind.String())
	}
}
