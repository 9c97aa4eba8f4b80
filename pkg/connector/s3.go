package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// S3API is the subset of the S3 client used by the objects connector
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Objects lists objects in one bucket via ListObjectsV2, an opaque
// continuation-token pagination idiom. The key prefix filter is evaluated
// server-side; time filtering is not supported by the service, so the sync
// controller applies the watermark client-side.
type S3Objects struct {
	api S3API
	pg  *pager.Pager
	log *zap.Logger
}

// NewS3Objects creates the S3 object listing connector
func NewS3Objects(api S3API, pg *pager.Pager) *S3Objects {
	return &S3Objects{api: api, pg: pg, log: logger.With(zap.String("connector", "s3-objects"))}
}

func (c *S3Objects) Kind() resource.Kind { return resource.KindS3Object }

func (c *S3Objects) List(ctx context.Context, scope Scope, filter Filter, _ *time.Time, emit pager.EmitFunc) error {
	if scope.Bucket == "" {
		return errors.New(errors.ErrorTypeConfig, "s3 object listing requires a bucket in scope")
	}

	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(scope.Bucket),
			Prefix:            optString(filter.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListObjectsV2 failed")
		}

		records := make([]resource.RawRecord, 0, len(out.Contents))
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) == "" {
				c.log.Warn("skipping object without a key", zap.String("bucket", scope.Bucket))
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"key":           aws.ToString(obj.Key),
				"last_modified": obj.LastModified,
				"size":          aws.ToInt64(obj.Size),
				"storage_class": string(obj.StorageClass),
				"etag":          aws.ToString(obj.ETag),
			})
		}

		var next *string
		if aws.ToBool(out.IsTruncated) {
			next = out.NextContinuationToken
		}
		return pager.Page{Records: records, NextToken: next}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}
