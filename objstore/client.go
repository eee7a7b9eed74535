// Package objstore provides a bucket-scoped client for the backing object
// store.
//
// The Client hides the store SDK behind the operation surface the transfer
// layers consume: listing, metadata, ranged reads, single-shot writes,
// multipart sessions, and presigned URL issuance. All operations speak
// object keys only; the bucket is fixed at construction.
package objstore

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/internal/s3api"
	"github.com/bucketfm/bucketfm/internal/validation"
)

// Client is a bucket-scoped object store client.
// It is safe for concurrent use.
type Client struct {
	// api is the underlying SDK client
	api s3api.S3API

	// presigner issues presigned GET URLs; nil when the client was built
	// around a bare mock without presign support
	presigner s3api.Presigner

	// bucket all operations are scoped to
	bucket string
}

// New creates a new object store client with the provided options.
// Credentials come from WithStaticCredentials or, when absent, the
// ambient default credential chain.
//
// Example:
//
//	client, err := objstore.New(
//	    objstore.WithBucket("my-files"),
//	    objstore.WithRegion("us-west-2"),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := &Config{
		MaxRetries: 3,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := validation.ValidateBucketName(cfg.Bucket); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, errors.NewError("clientInit", errors.Classify(err))
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}
	if cfg.MaxRetries > 0 {
		awsCfg.RetryMaxAttempts = cfg.MaxRetries
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.HTTPClient != nil {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = cfg.HTTPClient
		})
	} else if cfg.Timeout > 0 {
		httpClient := &http.Client{Timeout: cfg.Timeout}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = httpClient
		})
	}

	sdkClient := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Client{
		api:       sdkClient,
		presigner: s3.NewPresignClient(sdkClient),
		bucket:    cfg.Bucket,
	}, nil
}

// NewWithClient creates a client around a custom S3API implementation.
// This is primarily used for testing with mocked or fake clients.
// The presigner may be nil; SignedURL then fails with ErrNotConfigured.
func NewWithClient(api s3api.S3API, presigner s3api.Presigner, bucket string) *Client {
	return &Client{
		api:       api,
		presigner: presigner,
		bucket:    bucket,
	}
}

// Bucket returns the bucket this client is scoped to.
func (c *Client) Bucket() string {
	return c.bucket
}
