package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/internal/validation"
)

// List returns a single page of objects under the given prefix. When
// delimiter is non-empty, keys are rolled up into common prefixes at the
// first occurrence of the delimiter past the prefix, which yields a
// folder-style view.
func (c *Client) List(ctx context.Context, prefix, delimiter string) (*ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	output, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, errors.NewError("list", errors.Classify(err))
	}

	result := &ListResult{
		IsTruncated: aws.ToBool(output.IsTruncated),
	}
	for _, obj := range output.Contents {
		result.Entries = append(result.Entries, Entry{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
		})
	}
	for _, cp := range output.CommonPrefixes {
		result.Prefixes = append(result.Prefixes, aws.ToString(cp.Prefix))
	}
	if output.NextContinuationToken != nil {
		result.NextContinuationToken = aws.ToString(output.NextContinuationToken)
	}
	return result, nil
}

// ListAll returns every object under the given prefix, following
// continuation tokens across all pages.
func (c *Client) ListAll(ctx context.Context, prefix string) ([]Entry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewError("listAll", errors.Classify(err))
		}
		for _, obj := range page.Contents {
			entries = append(entries, Entry{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return entries, nil
}

// Head retrieves an object's metadata without downloading its content.
// Returns ErrNotFound if the object does not exist.
func (c *Client) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}

	output, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.NewError("head", errors.Classify(err)).WithKey(key)
	}

	return &ObjectMeta{
		Size:         aws.ToInt64(output.ContentLength),
		LastModified: aws.ToTime(output.LastModified),
		ContentType:  aws.ToString(output.ContentType),
		ETag:         strings.Trim(aws.ToString(output.ETag), `"`),
	}, nil
}

// RangeGet downloads the inclusive byte range [start, end] of an object.
// Bounds must satisfy 0 <= start <= end; the store truncates ranges that
// extend past the end of the object.
func (c *Client) RangeGet(ctx context.Context, key string, start, end int64) ([]byte, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, errors.NewError("rangeGet", errors.ErrInvalidRange).
			WithKey(key).
			WithMessage(fmt.Sprintf("bytes=%d-%d", start, end))
	}

	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, errors.NewError("rangeGet", errors.Classify(err)).WithKey(key)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.NewError("rangeGet", errors.Classify(err)).WithKey(key)
	}
	return data, nil
}

// Get downloads an entire object into memory. Intended for small objects;
// large objects go through the chunked download path.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}

	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.NewError("get", errors.Classify(err)).WithKey(key)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.NewError("get", errors.Classify(err)).WithKey(key)
	}
	return data, nil
}

// Put uploads an object in a single request. When contentType is empty it
// is detected from the key's extension and the content itself.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validation.ValidateObjectKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = DetectContentType(key, data)
	}

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return errors.NewError("put", errors.Classify(err)).WithKey(key)
	}
	return nil
}

// Delete removes a single object. Deleting a non-existent object succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := validation.ValidateObjectKey(key); err != nil {
		return err
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.NewError("delete", errors.Classify(err)).WithKey(key)
	}
	return nil
}

// maxDeleteBatch is the store's limit on keys per DeleteObjects request.
const maxDeleteBatch = 1000

// DeleteAll removes every object under the given prefix, batching deletes
// page by page. Returns the number of objects removed.
func (c *Client) DeleteAll(ctx context.Context, prefix string) (int, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, errors.NewError("deleteAll", errors.Classify(err))
		}
		for i := 0; i < len(page.Contents); i += maxDeleteBatch {
			end := i + maxDeleteBatch
			if end > len(page.Contents) {
				end = len(page.Contents)
			}
			batch := page.Contents[i:end]
			objects := make([]types.ObjectIdentifier, 0, len(batch))
			for _, obj := range batch {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}
			if len(objects) == 0 {
				continue
			}
			out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.bucket),
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			})
			if err != nil {
				return deleted, errors.NewError("deleteAll", errors.Classify(err))
			}
			if len(out.Errors) > 0 {
				first := out.Errors[0]
				return deleted, errors.NewError("deleteAll", errors.ErrAccessDenied).
					WithKey(aws.ToString(first.Key)).
					WithMessage(aws.ToString(first.Message))
			}
			deleted += len(objects)
		}
	}
	return deleted, nil
}

// Copy duplicates an object within the bucket without downloading it.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := validation.ValidateObjectKey(srcKey); err != nil {
		return err
	}
	if err := validation.ValidateObjectKey(dstKey); err != nil {
		return err
	}

	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(c.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return errors.NewError("copy", errors.Classify(err)).WithKey(srcKey)
	}
	return nil
}

// InitMultipart starts a multipart session for the given key and returns
// the session ID. The session remains open (and billed by the store) until
// it is completed or aborted.
func (c *Client) InitMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = DetectContentType(key, nil)
	}

	output, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.NewError("initMultipart", errors.Classify(err)).WithKey(key)
	}
	return aws.ToString(output.UploadId), nil
}

// UploadPart uploads one part of a multipart session and returns the
// part's ETag for the completion manifest. Part numbers are 1-based.
func (c *Client) UploadPart(ctx context.Context, sessionID, key string, partNumber int32, data []byte) (string, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", errors.NewError("uploadPart", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("session ID cannot be empty")
	}
	if partNumber < 1 {
		return "", errors.NewError("uploadPart", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("part number must be >= 1")
	}

	output, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(sessionID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", errors.NewError("uploadPart", errors.Classify(err)).WithKey(key)
	}
	return strings.Trim(aws.ToString(output.ETag), `"`), nil
}

// CompleteMultipart finalizes a multipart session with the given manifest.
// Parts are sorted by part number before submission; the store requires
// ascending order.
func (c *Client) CompleteMultipart(ctx context.Context, sessionID, key string, parts []CompletedPart) error {
	if err := validation.ValidateObjectKey(key); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.NewError("completeMultipart", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("session ID cannot be empty")
	}
	if len(parts) == 0 {
		return errors.NewError("completeMultipart", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("completion manifest cannot be empty")
	}

	sorted := make([]CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	completed := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}

	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return errors.NewError("completeMultipart", errors.Classify(err)).WithKey(key)
	}
	return nil
}

// AbortMultipart abandons a multipart session, releasing the parts the
// store has accumulated for it.
func (c *Client) AbortMultipart(ctx context.Context, sessionID, key string) error {
	if err := validation.ValidateObjectKey(key); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.NewError("abortMultipart", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("session ID cannot be empty")
	}

	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		return errors.NewError("abortMultipart", errors.Classify(err)).WithKey(key)
	}
	return nil
}

// SignedURL issues a presigned GET URL for the object, valid for the given
// duration. Anyone holding the URL can fetch the object until it expires.
func (c *Client) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", err
	}
	if c.presigner == nil {
		return "", errors.NewError("signedURL", errors.ErrNotConfigured).WithKey(key)
	}
	if ttl <= 0 {
		return "", errors.NewError("signedURL", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("expiry must be positive")
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.NewError("signedURL", errors.Classify(err)).WithKey(key)
	}
	return req.URL, nil
}

// DetectContentType resolves a MIME type for the given object name and
// leading content bytes. Extension mapping wins when it is known;
// otherwise the content is sniffed. Falls back to application/octet-stream.
func DetectContentType(name string, head []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(head) > 0 {
		return mimetype.Detect(head).String()
	}
	return "application/octet-stream"
}
