package errors

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"
)

// networkHint is appended to connectivity failures. Misconfigured
// endpoints and blocked cross-origin requests are the dominant causes of
// these errors in client deployments, and the raw SDK message rarely
// points at either.
const networkHint = "check network connectivity and endpoint/CORS configuration"

// Classify maps an SDK error onto the package's sentinel categories so
// callers can branch with errors.Is instead of inspecting SDK types.
// The original error stays in the chain. Errors that already carry a
// sentinel, and errors that fit no category, pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	// Already classified (or produced by this module).
	for _, sentinel := range []error{
		ErrNotConfigured, ErrTooSmallForResumable, ErrNetwork, ErrAccessDenied,
		ErrInvalidCredentials, ErrNotFound, ErrBucketNotFound, ErrCancelled,
		ErrStaleProgress, ErrInvalidRange, ErrInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.Canceled) {
		return classified(ErrCancelled, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled":
			return classified(ErrAccessDenied, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return classified(ErrInvalidCredentials, err)
		case "NoSuchKey", "NotFound":
			return classified(ErrNotFound, err)
		case "NoSuchBucket":
			return classified(ErrBucketNotFound, err)
		case "InvalidRange":
			return classified(ErrInvalidRange, err)
		case "RequestTimeout":
			return classifiedHint(ErrNetwork, err, networkHint)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classifiedHint(ErrNetwork, err, networkHint)
	}

	// Some SDK transport failures surface as plain errors with no
	// structured code. Fall back to message matching the way the SDK's
	// own callers do.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "connection reset"):
		return classifiedHint(ErrNetwork, err, networkHint)
	case strings.Contains(msg, "NoSuchKey"), strings.Contains(msg, "NotFound"):
		return classified(ErrNotFound, err)
	case strings.Contains(msg, "NoSuchBucket"):
		return classified(ErrBucketNotFound, err)
	case strings.Contains(msg, "AccessDenied"):
		return classified(ErrAccessDenied, err)
	}

	return err
}

// classified joins a sentinel with the underlying error so both survive
// errors.Is / errors.As checks and the user still sees the SDK message.
func classified(sentinel, err error) error {
	return errors.Join(sentinel, err)
}

func classifiedHint(sentinel, err error, hint string) error {
	return errors.Join(sentinel, err, errors.New(hint))
}
