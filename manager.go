// Package bucketfm is a client-side file manager for an object store
// bucket.
//
// The Manager is the caller-facing surface: browsing, sharing, and object
// housekeeping delegate to the store client, while uploads run through a
// serialized queue and downloads through a concurrent tracker, both backed
// by a resumable transfer engine that persists per-chunk progress across
// process restarts.
package bucketfm

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/objstore"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/queue"
	"github.com/bucketfm/bucketfm/transfer"
)

// Manager coordinates the object store client, the transfer engine, the
// upload queue, and the download tracker behind one API. Construct it
// with New; the zero value is unconfigured and every operation on it
// fails with ErrNotConfigured.
type Manager struct {
	client  *objstore.Client
	prog    progress.Store
	engine  *transfer.Engine
	queue   *queue.Coordinator
	tracker *queue.Tracker
}

// New creates a Manager and starts its upload worker, which runs until
// ctx ends. Interrupted uploads from previous runs surface as paused
// queue items.
//
// Example:
//
//	m, err := bucketfm.New(ctx,
//	    bucketfm.WithStore(
//	        objstore.WithBucket("my-files"),
//	        objstore.WithRegion("us-west-2"),
//	    ),
//	)
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := objstore.New(cfg.storeOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.fs == nil {
		cfg.fs = osfs.New("/")
	}
	if cfg.prog == nil {
		store, err := progress.OpenDefault()
		if err != nil {
			return nil, err
		}
		cfg.prog = store
	}

	engine := transfer.New(client, cfg.prog, cfg.fs, cfg.engineOpts...)
	coord := queue.NewCoordinator(engine, client, cfg.prog, cfg.fs, cfg.queueOpts...)
	if err := coord.Reconcile(); err != nil {
		return nil, err
	}
	coord.Start(ctx)

	return &Manager{
		client:  client,
		prog:    cfg.prog,
		engine:  engine,
		queue:   coord,
		tracker: queue.NewTracker(engine, cfg.prog),
	}, nil
}

func (m *Manager) ready() error {
	if m == nil || m.client == nil {
		return bfmerrors.NewError("manager", bfmerrors.ErrNotConfigured)
	}
	return nil
}

// Browse lists the entries directly under prefix, folder-style: objects
// at that level plus the sub-prefixes one level down. A non-empty prefix
// is normalized to end with "/".
func (m *Manager) Browse(ctx context.Context, prefix string) (*objstore.ListResult, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return m.client.List(ctx, prefix, "/")
}

// Stat returns an object's metadata.
func (m *Manager) Stat(ctx context.Context, key string) (*objstore.ObjectMeta, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.client.Head(ctx, key)
}

// Delete removes one object.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.Delete(ctx, key)
}

// DeleteFolder removes every object under prefix and returns how many
// were removed.
func (m *Manager) DeleteFolder(ctx context.Context, prefix string) (int, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return m.client.DeleteAll(ctx, prefix)
}

// Copy duplicates an object within the bucket.
func (m *Manager) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.Copy(ctx, srcKey, dstKey)
}

// Move renames an object: copy to the new key, then delete the old one.
// A failed delete leaves both objects in place.
func (m *Manager) Move(ctx context.Context, srcKey, dstKey string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.client.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	return m.client.Delete(ctx, srcKey)
}

// ShareURL issues a presigned GET URL for the object, valid for ttl.
func (m *Manager) ShareURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.client.SignedURL(ctx, key, ttl)
}

// Upload enqueues a local file for upload and returns the queue item ID.
// The queue uploads files strictly in arrival order, one at a time.
func (m *Manager) Upload(localPath, destKey string) (uuid.UUID, error) {
	if err := m.ready(); err != nil {
		return uuid.Nil, err
	}
	return m.queue.Add(localPath, destKey)
}

// UploadAll enqueues several files, skipping duplicates item by item.
func (m *Manager) UploadAll(reqs []queue.Request) ([]uuid.UUID, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.queue.AddAll(reqs)
}

// PauseUpload suspends a queue item at its next part boundary.
func (m *Manager) PauseUpload(id uuid.UUID) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.queue.Pause(id)
}

// ResumeUpload releases a paused queue item.
func (m *Manager) ResumeUpload(id uuid.UUID) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.queue.Resume(id)
}

// RetryUpload re-queues an errored queue item.
func (m *Manager) RetryUpload(id uuid.UUID) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.queue.Retry(id)
}

// RemoveUpload drops a queue item, cancelling it if active, aborting its
// multipart session, and purging its persisted progress.
func (m *Manager) RemoveUpload(ctx context.Context, id uuid.UUID) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.queue.Remove(ctx, id)
}

// AbortUpload discards the persisted progress of an interrupted upload
// identified by its source file attributes, aborting the open multipart
// session at the store.
func (m *Manager) AbortUpload(ctx context.Context, localPath string, size int64, modTime time.Time) error {
	if err := m.ready(); err != nil {
		return err
	}
	id := progress.ForUpload(filepath.Dir(localPath), filepath.Base(localPath), size, modTime)
	return m.engine.AbortUpload(ctx, id)
}

// Items returns a snapshot of the upload queue in arrival order.
func (m *Manager) Items() []queue.Item {
	if m == nil || m.queue == nil {
		return nil
	}
	return m.queue.Items()
}

// Download fetches an object. Objects at or above the resumable threshold
// go through the chunked resumable path; smaller objects are fetched in
// one request with a single progress tick.
func (m *Manager) Download(ctx context.Context, key, fileName string, onProgress transfer.ProgressFunc) ([]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	meta, err := m.client.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta.Size < m.engine.Threshold() {
		data, err := m.client.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(int64(len(data)), int64(len(data)))
		}
		return data, nil
	}
	return m.tracker.Download(ctx, key, fileName, onProgress)
}

// ResumeDownload re-invokes an interrupted download by identity.
func (m *Manager) ResumeDownload(ctx context.Context, id progress.Identity, onProgress transfer.ProgressFunc) ([]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.tracker.Resume(ctx, id, onProgress)
}

// CancelDownload purges the persisted record of an interrupted download.
func (m *Manager) CancelDownload(id progress.Identity) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.tracker.Cancel(id)
}

// PendingUploads returns persisted upload records that can be resumed.
func (m *Manager) PendingUploads() (map[progress.Identity]*progress.UploadRecord, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.engine.PendingUploads()
}

// PendingDownloads returns persisted download records that can be
// resumed.
func (m *Manager) PendingDownloads() (map[progress.Identity]*progress.DownloadRecord, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.engine.PendingDownloads()
}
