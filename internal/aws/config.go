package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// ConfigOptions carries the settings LoadAWSConfig needs from the app config.
type ConfigOptions struct {
	Region string
	// EndpointOverride points every client at a single endpoint (localstack).
	EndpointOverride string
}

func LoadAWSConfig(ctx context.Context, opts ConfigOptions) (sdkaws.Config, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion // default fallback
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if opts.EndpointOverride != "" {
		cfg.BaseEndpoint = sdkaws.String(opts.EndpointOverride)
	}

	return cfg, nil
}
