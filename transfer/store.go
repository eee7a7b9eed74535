package transfer

import (
	"context"

	"github.com/bucketfm/bucketfm/objstore"
)

// ObjectStore is the store surface the engine consumes. *objstore.Client
// implements it; tests substitute an in-memory fake.
type ObjectStore interface {
	// Head retrieves object metadata without downloading content.
	Head(ctx context.Context, key string) (*objstore.ObjectMeta, error)

	// RangeGet downloads the inclusive byte range [start, end].
	RangeGet(ctx context.Context, key string, start, end int64) ([]byte, error)

	// InitMultipart starts a multipart session and returns its ID.
	InitMultipart(ctx context.Context, key, contentType string) (string, error)

	// UploadPart uploads one part and returns its ETag.
	UploadPart(ctx context.Context, sessionID, key string, partNumber int32, data []byte) (string, error)

	// CompleteMultipart finalizes a session with the part manifest.
	CompleteMultipart(ctx context.Context, sessionID, key string, parts []objstore.CompletedPart) error

	// AbortMultipart abandons a session.
	AbortMultipart(ctx context.Context, sessionID, key string) error
}

var _ ObjectStore = (*objstore.Client)(nil)
