package awsclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options select the region, an optional endpoint override (LocalStack,
// ElasticMQ) and optional static keys. Empty keys fall back to the default
// credential chain.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Load resolves an aws.Config for the given options.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var loaders []func(*awscfg.LoadOptions) error
	if r := strings.TrimSpace(opts.Region); r != "" {
		loaders = append(loaders, awscfg.WithRegion(r))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// BaseEndpoint returns the endpoint override or nil.
func BaseEndpoint(opts Options) *string {
	if e := strings.TrimSpace(opts.Endpoint); e != "" {
		return aws.String(e)
	}
	return nil
}
