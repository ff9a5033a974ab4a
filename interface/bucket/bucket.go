package bucket

import (
	"context"
	"fmt"
	"strings"

	"github.com/airbusgeo/ewoc-classif/service"
)

// Cloud providers
const (
	ProviderAWS      = "aws"
	ProviderCreodias = "creodias"
	ProviderGCP      = "gcp"
	ProviderLocal    = "local"
)

// DefaultCreodiasEndpoint is the S3 endpoint of CreoDIAS/CloudFerro
const DefaultCreodiasEndpoint = "https://s3.waw2-1.cloudferro.com"

// Config to connect to a bucket
type Config struct {
	Endpoint        string // Empty for the default endpoint of the provider
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	LocalRoot       string // Root directory of the local buckets
}

// New returns a bucket of the cloud provider
func New(ctx context.Context, provider, name string, cfg Config) (service.Bucket, error) {
	switch strings.ToLower(provider) {
	case ProviderAWS:
		return NewS3Bucket(ctx, name, cfg)
	case ProviderCreodias:
		if cfg.Endpoint == "" {
			cfg.Endpoint = DefaultCreodiasEndpoint
		}
		return NewCreodiasBucket(name, cfg)
	case ProviderGCP:
		return NewGSBucket(ctx, name)
	case ProviderLocal:
		return NewLocalBucket(cfg.LocalRoot, name)
	}
	return nil, service.MakeConfigurationError(fmt.Errorf("unsupported cloud provider: %s", provider))
}

func joinURI(scheme, name, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, name, strings.TrimPrefix(key, "/"))
}
