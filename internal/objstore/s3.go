package objstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config describes how to reach the object store.
type S3Config struct {
	Endpoint           string
	Region             string
	Bucket             string
	AccessKey          string
	SecretKey          string
	UsePathStyle       bool
	InsecureSkipVerify bool
}

// NewS3 builds a Client backed by aws-sdk-go-v2. An empty endpoint targets AWS
// itself; MinIO and other S3-compatible stores need Endpoint and usually
// UsePathStyle.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.InsecureSkipVerify {
		// Self-signed MinIO deployments.
		opts = append(opts, awsconfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("object store client configured",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", region),
		zap.String("bucket", cfg.Bucket),
		zap.Bool("path_style", cfg.UsePathStyle))

	return New(client, s3.NewPresignClient(client), cfg.Bucket, logger), nil
}
