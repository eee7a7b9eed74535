// Package objstore provides functional options for configuring client behavior.
// These options follow the functional options pattern for clean, composable configuration.
package objstore

import (
	"net/http"
	"time"
)

// WithBucket sets the bucket all operations of this client are scoped to.
func WithBucket(bucket string) Option {
	return func(c *Config) {
		c.Bucket = bucket
	}
}

// WithRegion sets the region for store operations.
// If not specified, uses the default region from the credential chain.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom endpoint URL.
// This is useful for S3-compatible services or local testing.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithStaticCredentials sets an explicit access key pair, bypassing the
// default credential chain. The session token may be empty.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted style.
// Required for S3-compatible services that don't support virtual hosting.
func WithForcePathStyle(forcePathStyle bool) Option {
	return func(c *Config) {
		c.ForcePathStyle = forcePathStyle
	}
}

// WithMaxRetries sets the maximum number of SDK-level retry attempts.
// Default is 3 retries.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

// WithTimeout sets the timeout for individual store operations.
// Default is no timeout (0).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithHTTPClient allows providing a custom HTTP client.
// This gives full control over HTTP behavior including proxies and TLS.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}
