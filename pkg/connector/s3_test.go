package connector

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

func testPager() *pager.Pager {
	return pager.New(pager.Config{Retry: &pager.RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}})
}

type fakeS3 struct {
	pages  map[string]*s3.ListObjectsV2Output
	inputs []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.inputs = append(f.inputs, params)
	return f.pages[aws.ToString(params.ContinuationToken)], nil
}

func s3Object(key string, modified time.Time, size int64) s3types.Object {
	return s3types.Object{
		Key:          aws.String(key),
		LastModified: aws.Time(modified),
		Size:         aws.Int64(size),
		StorageClass: s3types.ObjectStorageClassStandard,
		ETag:         aws.String(`"etag-` + key + `"`),
	}
}

func TestS3ObjectsTwoPages(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents:              []s3types.Object{s3Object("a.csv", now, 10), s3Object("b.csv", now, 20)},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("tok-2"),
		},
		"tok-2": {
			Contents:    []s3types.Object{s3Object("c.csv", now, 30)},
			IsTruncated: aws.Bool(false),
		},
	}}

	conn := NewS3Objects(api, testPager())
	var keys []string
	err := conn.List(context.Background(), Scope{Bucket: "data-lake"}, Filter{Prefix: "raw/"}, nil,
		func(rec resource.RawRecord) error {
			keys = append(keys, rec["key"].(string))
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.csv", "b.csv", "c.csv"}, keys)
	require.Len(t, api.inputs, 2)
	assert.Equal(t, "data-lake", aws.ToString(api.inputs[0].Bucket))
	assert.Equal(t, "raw/", aws.ToString(api.inputs[0].Prefix))
	assert.Nil(t, api.inputs[0].ContinuationToken)
	assert.Equal(t, "tok-2", aws.ToString(api.inputs[1].ContinuationToken))
}

func TestS3ObjectsRequiresBucket(t *testing.T) {
	conn := NewS3Objects(&fakeS3{}, testPager())
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(resource.RawRecord) error { return nil })

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestS3ObjectsSkipsKeylessEntries(t *testing.T) {
	api := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents: []s3types.Object{
				{LastModified: aws.Time(time.Now())},
				s3Object("ok.csv", time.Now(), 1),
			},
		},
	}}

	conn := NewS3Objects(api, testPager())
	var keys []string
	err := conn.List(context.Background(), Scope{Bucket: "b"}, Filter{}, nil,
		func(rec resource.RawRecord) error {
			keys = append(keys, rec["key"].(string))
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.csv"}, keys)
}
