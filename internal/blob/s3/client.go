// Package s3blob archives settlement receipts in S3 or an S3-compatible
// store (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig locates the receipt bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. A bare
	// host gets a scheme from UseSSL.
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool // MinIO and most compatible providers need this
	// Prefix namespaces every key, e.g. "mainnet/".
	Prefix string
}

// Client is a bucket handle shared by Reader and Writer.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a client with static credentials. It does not contact the
// bucket; use Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	switch {
	case cfg.Bucket == "":
		return nil, fmt.Errorf("s3blob: bucket name is required")
	case cfg.Region == "":
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     api,
		bucket: cfg.Bucket,
		prefix: normalisePrefix(cfg.Prefix),
	}, nil
}

// Health checks that the bucket is reachable with the configured
// credentials. It backs the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// key maps an archive path to an object key.
func (c *Client) key(path string) *string {
	return aws.String(c.prefix + path)
}

func normalisePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func withScheme(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
