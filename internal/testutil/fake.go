package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/objstore"
)

// RangeCall records the byte bounds of one RangeGet invocation.
type RangeCall struct {
	Key   string
	Start int64
	End   int64
}

// PartCall records one UploadPart invocation.
type PartCall struct {
	SessionID  string
	Key        string
	PartNumber int32
	Size       int64
}

// fakeObject is one stored object.
type fakeObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// fakeSession is one open multipart session.
type fakeSession struct {
	key   string
	parts map[int32][]byte
}

// FakeStore is an in-memory object store with real multipart-session and
// byte-range semantics. It records every range and part call so tests can
// assert exact byte bounds and part sequences, and exposes hook fields to
// inject failures at chosen points.
//
// FakeStore is safe for concurrent use.
type FakeStore struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	sessions map[string]*fakeSession
	nextID   int

	rangeCalls []RangeCall
	partCalls  []PartCall
	manifests  [][]objstore.CompletedPart
	aborted    []string

	// UploadPartHook, when set, runs before each UploadPart; a non-nil
	// return fails the call.
	UploadPartHook func(partNumber int32) error

	// RangeGetHook, when set, runs before each RangeGet; a non-nil
	// return fails the call.
	RangeGetHook func(start, end int64) error
}

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		objects:  make(map[string]fakeObject),
		sessions: make(map[string]*fakeSession),
	}
}

// Seed stores an object directly, bypassing the upload paths.
func (f *FakeStore) Seed(key string, data []byte, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, modTime: modTime}
}

// Object returns a stored object's bytes and whether it exists.
func (f *FakeStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, true
}

// SessionCount returns how many multipart sessions are currently open.
func (f *FakeStore) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Head returns object metadata.
func (f *FakeStore) Head(_ context.Context, key string) (*objstore.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, bfmerrors.NewError("head", bfmerrors.ErrNotFound).WithKey(key)
	}
	return &objstore.ObjectMeta{
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
		ContentType:  obj.contentType,
	}, nil
}

// RangeGet returns the inclusive byte range [start, end], truncated at the
// end of the object, and records the call.
func (f *FakeStore) RangeGet(_ context.Context, key string, start, end int64) ([]byte, error) {
	if f.RangeGetHook != nil {
		if err := f.RangeGetHook(start, end); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls = append(f.rangeCalls, RangeCall{Key: key, Start: start, End: end})

	obj, ok := f.objects[key]
	if !ok {
		return nil, bfmerrors.NewError("rangeGet", bfmerrors.ErrNotFound).WithKey(key)
	}
	size := int64(len(obj.data))
	if start < 0 || start >= size || end < start {
		return nil, bfmerrors.NewError("rangeGet", bfmerrors.ErrInvalidRange).WithKey(key)
	}
	if end > size-1 {
		end = size - 1
	}
	out := make([]byte, end-start+1)
	copy(out, obj.data[start:end+1])
	return out, nil
}

// Put stores an object in one request.
func (f *FakeStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	f.objects[key] = fakeObject{data: stored, contentType: contentType, modTime: time.Now()}
	return nil
}

// InitMultipart opens a session and returns its ID.
func (f *FakeStore) InitMultipart(_ context.Context, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("session-%d", f.nextID)
	f.sessions[id] = &fakeSession{key: key, parts: make(map[int32][]byte)}
	return id, nil
}

// UploadPart stores one part in a session and returns a deterministic ETag.
func (f *FakeStore) UploadPart(_ context.Context, sessionID, key string, partNumber int32, data []byte) (string, error) {
	if f.UploadPartHook != nil {
		if err := f.UploadPartHook(partNumber); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.partCalls = append(f.partCalls, PartCall{
		SessionID:  sessionID,
		Key:        key,
		PartNumber: partNumber,
		Size:       int64(len(data)),
	})

	sess, ok := f.sessions[sessionID]
	if !ok {
		return "", bfmerrors.NewError("uploadPart", bfmerrors.ErrNotFound).WithKey(key)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	sess.parts[partNumber] = stored
	return fmt.Sprintf("etag-%s-%d", sessionID, partNumber), nil
}

// CompleteMultipart assembles the session's parts in manifest order into
// an object and closes the session. Completing an already closed session
// fails without touching the stored object.
func (f *FakeStore) CompleteMultipart(_ context.Context, sessionID, key string, parts []objstore.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	manifest := make([]objstore.CompletedPart, len(parts))
	copy(manifest, parts)
	f.manifests = append(f.manifests, manifest)

	sess, ok := f.sessions[sessionID]
	if !ok {
		return bfmerrors.NewError("completeMultipart", bfmerrors.ErrNotFound).WithKey(key)
	}
	var prev int32
	var data []byte
	for _, p := range parts {
		if p.PartNumber <= prev {
			return bfmerrors.NewError("completeMultipart", bfmerrors.ErrInvalidInput).
				WithKey(key).
				WithMessage("part numbers must be ascending")
		}
		prev = p.PartNumber
		chunk, ok := sess.parts[p.PartNumber]
		if !ok {
			return bfmerrors.NewError("completeMultipart", bfmerrors.ErrInvalidInput).
				WithKey(key).
				WithMessage(fmt.Sprintf("part %d was never uploaded", p.PartNumber))
		}
		data = append(data, chunk...)
	}

	f.objects[key] = fakeObject{data: data, modTime: time.Now()}
	delete(f.sessions, sessionID)
	return nil
}

// AbortMultipart closes a session, discarding its parts. Aborting an
// unknown session succeeds.
func (f *FakeStore) AbortMultipart(_ context.Context, sessionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionID)
	delete(f.sessions, sessionID)
	return nil
}

// Ranges returns the recorded RangeGet calls in invocation order.
// Calls rejected by RangeGetHook are not recorded.
func (f *FakeStore) Ranges() []RangeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RangeCall, len(f.rangeCalls))
	copy(out, f.rangeCalls)
	return out
}

// Parts returns the recorded UploadPart calls in invocation order.
// Calls rejected by UploadPartHook are not recorded.
func (f *FakeStore) Parts() []PartCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PartCall, len(f.partCalls))
	copy(out, f.partCalls)
	return out
}

// Manifests returns the part manifests passed to CompleteMultipart.
func (f *FakeStore) Manifests() [][]objstore.CompletedPart {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]objstore.CompletedPart, len(f.manifests))
	copy(out, f.manifests)
	return out
}

// Aborted returns the session IDs passed to AbortMultipart.
func (f *FakeStore) Aborted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.aborted))
	copy(out, f.aborted)
	return out
}
