// Package errors provides error types and handling for object store and
// transfer operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents an operation error with context about what failed.
// It wraps the underlying SDK or engine error with the operation name
// and the object key involved, when one applies.
type Error struct {
	// Op is the operation that failed (e.g., "upload", "rangeGet", "enqueue")
	Op string

	// Key is the object key (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("bucketfm.%s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("bucketfm.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// Sentinel errors for the failure categories callers must be able to
// distinguish. Retryability differs per category: network failures are
// retryable with progress preserved, authorization and not-found failures
// are terminal until the environment changes.
var (
	// ErrNotConfigured indicates that the client was never initialized
	ErrNotConfigured = errors.New("bucketfm: client not configured")

	// ErrTooSmallForResumable indicates the file is below the resumable
	// threshold and must use the single-shot upload path
	ErrTooSmallForResumable = errors.New("bucketfm: file too small for resumable transfer")

	// ErrNetwork indicates a connectivity failure; persisted progress is intact
	ErrNetwork = errors.New("bucketfm: network failure")

	// ErrAccessDenied indicates that access to the resource is denied
	ErrAccessDenied = errors.New("bucketfm: access denied")

	// ErrInvalidCredentials indicates the supplied credentials were rejected
	ErrInvalidCredentials = errors.New("bucketfm: invalid credentials")

	// ErrNotFound indicates that the requested object does not exist
	ErrNotFound = errors.New("bucketfm: object not found")

	// ErrBucketNotFound indicates that the configured bucket does not exist
	ErrBucketNotFound = errors.New("bucketfm: bucket not found")

	// ErrCancelled indicates a user-initiated cancellation; not a failure
	ErrCancelled = errors.New("bucketfm: transfer cancelled")

	// ErrStaleProgress indicates persisted progress no longer matches the
	// source; the record is discarded and the transfer restarts
	ErrStaleProgress = errors.New("bucketfm: stale transfer progress")

	// ErrInvalidRange indicates that the requested byte range is invalid
	ErrInvalidRange = errors.New("bucketfm: invalid range")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("bucketfm: invalid input")

	// ErrInvalidObjectKey indicates that the object key is invalid
	ErrInvalidObjectKey = errors.New("bucketfm: invalid object key")

	// ErrInvalidBucketName indicates that the bucket name is invalid
	ErrInvalidBucketName = errors.New("bucketfm: invalid bucket name")

	// ErrTransferActive indicates an engine invocation is already running
	// for the same transfer identity
	ErrTransferActive = errors.New("bucketfm: transfer already active")
)

// IsNotFound checks if an error indicates that an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied checks if an error indicates access was denied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsCancelled checks if an error is a user-initiated cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsNetwork checks if an error is a retryable connectivity failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsInvalidInput checks if an error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether re-invoking the failed operation could
// succeed without any change to credentials or the remote object.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
