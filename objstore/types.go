package objstore

import (
	"net/http"
	"time"
)

// Entry represents one object returned by a listing.
type Entry struct {
	// Key is the object key (path)
	Key string

	// Size is the object size in bytes
	Size int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the store's entity tag for the object
	ETag string
}

// ObjectMeta contains metadata about an object, retrieved without
// downloading its content.
type ObjectMeta struct {
	// Size is the object size in bytes
	Size int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ContentType is the MIME type of the object
	ContentType string

	// ETag is the store's entity tag for the object
	ETag string
}

// CompletedPart identifies one acknowledged part of a multipart session,
// as required by the completion manifest.
type CompletedPart struct {
	// PartNumber is the 1-based part index
	PartNumber int32

	// ETag is the tag the store returned when the part was uploaded
	ETag string
}

// ListResult contains one page of a listing.
type ListResult struct {
	// Entries contains the listed objects
	Entries []Entry

	// Prefixes contains the common prefixes ("folders") when a
	// delimiter was used
	Prefixes []string

	// IsTruncated indicates more pages follow
	IsTruncated bool

	// NextContinuationToken resumes the listing at the next page
	NextContinuationToken string
}

// Config holds configuration for the object store client. Credential
// fields are opaque inputs; when AccessKeyID is empty the ambient
// default credential chain is used.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	MaxRetries      int
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Option is a functional option for configuring the client.
type Option func(*Config)
