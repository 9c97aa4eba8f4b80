// Package awsx provides the shared AWS client configuration and translation
// of SDK errors into the engine's error taxonomy.
package awsx

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/cloudpivot/metamirror/pkg/errors"
)

// LoadConfig resolves an aws.Config for the given shared profile and region.
// Empty values fall back to the SDK's default resolution chain.
func LoadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return cfg, nil
}
