package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// KinesisAPI is the subset of the Kinesis client used by the stream connector
type KinesisAPI interface {
	ListStreams(ctx context.Context, params *kinesis.ListStreamsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListStreamsOutput, error)
	DescribeStreamSummary(ctx context.Context, params *kinesis.DescribeStreamSummaryInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error)
}

// KinesisStreams lists streams and describes each for its summary fields.
// ListStreams paginates by name marker (ExclusiveStartStreamName plus
// HasMoreStreams) rather than an opaque token; the last stream name of each
// page becomes the continuation token. A stream deleted between list and
// describe is skipped, not fatal.
type KinesisStreams struct {
	api KinesisAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewKinesisStreams creates the stream listing connector
func NewKinesisStreams(api KinesisAPI, pg *pager.Pager) *KinesisStreams {
	return &KinesisStreams{api: api, pg: pg, log: logger.With(zap.String("connector", "kinesis-streams"))}
}

func (c *KinesisStreams) Kind() resource.Kind { return resource.KindKinesisStream }

func (c *KinesisStreams) List(ctx context.Context, _ Scope, _ Filter, _ *time.Time, emit pager.EmitFunc) error {
	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListStreams(ctx, &kinesis.ListStreamsInput{
			ExclusiveStartStreamName: token,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListStreams failed")
		}

		records := make([]resource.RawRecord, 0, len(out.StreamNames))
		for _, name := range out.StreamNames {
			rec, err := c.describe(ctx, name)
			if err != nil {
				if errors.IsType(err, errors.ErrorTypeNotFound) {
					c.log.Warn("stream disappeared between list and describe", zap.String("stream_name", name))
					metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
					continue
				}
				return pager.Page{}, err
			}
			records = append(records, rec)
		}

		var next *string
		if aws.ToBool(out.HasMoreStreams) && len(out.StreamNames) > 0 {
			next = aws.String(out.StreamNames[len(out.StreamNames)-1])
		}
		return pager.Page{Records: records, NextToken: next}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

func (c *KinesisStreams) describe(ctx context.Context, name string) (resource.RawRecord, error) {
	out, err := c.api.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
		StreamName: aws.String(name),
	})
	if err != nil {
		return nil, awsx.Classify(err, "DescribeStreamSummary failed")
	}

	summary := out.StreamDescriptionSummary
	if summary == nil {
		return nil, errors.New(errors.ErrorTypeData, "empty stream description").WithDetail("stream_name", name)
	}

	rec := resource.RawRecord{
		"stream_name":               name,
		"stream_arn":                aws.ToString(summary.StreamARN),
		"stream_status":             string(summary.StreamStatus),
		"open_shard_count":          aws.ToInt32(summary.OpenShardCount),
		"retention_period_hours":    aws.ToInt32(summary.RetentionPeriodHours),
		"stream_creation_timestamp": summary.StreamCreationTimestamp,
	}
	if summary.StreamModeDetails != nil {
		rec["stream_mode"] = string(summary.StreamModeDetails.StreamMode)
	}
	return rec, nil
}
