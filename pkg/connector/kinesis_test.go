package connector

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/resource"
)

type fakeKinesis struct {
	pages    map[string]*kinesis.ListStreamsOutput
	missing  map[string]bool
	listReqs []string
}

func (f *fakeKinesis) ListStreams(ctx context.Context, params *kinesis.ListStreamsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListStreamsOutput, error) {
	marker := aws.ToString(params.ExclusiveStartStreamName)
	f.listReqs = append(f.listReqs, marker)
	return f.pages[marker], nil
}

func (f *fakeKinesis) DescribeStreamSummary(ctx context.Context, params *kinesis.DescribeStreamSummaryInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error) {
	name := aws.ToString(params.StreamName)
	if f.missing[name] {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "gone"}
	}
	return &kinesis.DescribeStreamSummaryOutput{
		StreamDescriptionSummary: &kinesistypes.StreamDescriptionSummary{
			StreamARN:               aws.String("arn:aws:kinesis:us-east-1:123456789012:stream/" + name),
			StreamStatus:            kinesistypes.StreamStatusActive,
			OpenShardCount:          aws.Int32(4),
			RetentionPeriodHours:    aws.Int32(24),
			StreamCreationTimestamp: aws.Time(time.Now().UTC()),
			StreamModeDetails: &kinesistypes.StreamModeDetails{
				StreamMode: kinesistypes.StreamModeOnDemand,
			},
		},
	}, nil
}

func TestKinesisStreamsNameMarkerPagination(t *testing.T) {
	api := &fakeKinesis{pages: map[string]*kinesis.ListStreamsOutput{
		"": {
			StreamNames:    []string{"clicks", "orders"},
			HasMoreStreams: aws.Bool(true),
		},
		"orders": {
			StreamNames:    []string{"payments"},
			HasMoreStreams: aws.Bool(false),
		},
	}}

	conn := NewKinesisStreams(api, testPager())
	var names []string
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(rec resource.RawRecord) error {
			names = append(names, rec["stream_name"].(string))
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"clicks", "orders", "payments"}, names)
	// The last stream name of a page is the marker for the next page.
	assert.Equal(t, []string{"", "orders"}, api.listReqs)
}

func TestKinesisStreamsSkipsDeletedStream(t *testing.T) {
	api := &fakeKinesis{
		pages: map[string]*kinesis.ListStreamsOutput{
			"": {StreamNames: []string{"clicks", "ghost", "orders"}},
		},
		missing: map[string]bool{"ghost": true},
	}

	conn := NewKinesisStreams(api, testPager())
	var names []string
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(rec resource.RawRecord) error {
			names = append(names, rec["stream_name"].(string))
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"clicks", "orders"}, names)
}

func TestKinesisStreamRecordShape(t *testing.T) {
	api := &fakeKinesis{pages: map[string]*kinesis.ListStreamsOutput{
		"": {StreamNames: []string{"clicks"}},
	}}

	conn := NewKinesisStreams(api, testPager())
	var rec resource.RawRecord
	err := conn.List(context.Background(), Scope{}, Filter{}, nil,
		func(r resource.RawRecord) error {
			rec = r
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, "clicks", rec["stream_name"])
	assert.Equal(t, "ACTIVE", rec["stream_status"])
	assert.Equal(t, "ON_DEMAND", rec["stream_mode"])
	assert.Equal(t, int32(4), rec["open_shard_count"])
}
