// Package queue serializes uploads through a single worker and tracks
// concurrent downloads.
//
// The Coordinator processes enqueued uploads strictly in arrival order,
// one at a time. Items are paused, resumed, retried, and removed
// individually; the engine's persisted progress makes paused and
// interrupted items resumable across restarts. The Tracker is the lighter
// download-side counterpart: downloads hold no exclusive store session,
// so they run concurrently.
package queue

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/transfer"
)

// DefaultCompletedExpiry is how long a completed item stays visible in
// the queue before it is dropped.
const DefaultCompletedExpiry = 3 * time.Second

// Putter uploads small files in a single request. *objstore.Client
// implements it.
type Putter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Request names one file to enqueue.
type Request struct {
	// LocalPath is the source file path
	LocalPath string

	// DestKey is the destination object key
	DestKey string
}

// Coordinator runs the upload queue. Files at or above the engine's
// resumable threshold go through the engine's multipart path; smaller
// files are uploaded in one request. At most one item uploads at a time.
//
// Coordinator is safe for concurrent use.
type Coordinator struct {
	engine *transfer.Engine
	small  Putter
	prog   progress.Store
	fs     billy.Filesystem

	expiry time.Duration
	notify func(Item)

	mu     sync.Mutex
	items  []*Item
	active *Item
	wake   chan struct{}

	startOnce sync.Once
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCompletedExpiry overrides how long completed items stay visible.
func WithCompletedExpiry(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.expiry = d
	}
}

// WithNotify registers a callback invoked with an item snapshot on every
// status or progress change. The callback runs on the worker goroutine
// and must not block.
func WithNotify(fn func(Item)) CoordinatorOption {
	return func(c *Coordinator) {
		c.notify = fn
	}
}

// NewCoordinator creates an upload queue over the given engine. Small
// files bypass the engine through small; local files are read from fs.
func NewCoordinator(engine *transfer.Engine, small Putter, prog progress.Store, fs billy.Filesystem, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		engine: engine,
		small:  small,
		prog:   prog,
		fs:     fs,
		expiry: DefaultCompletedExpiry,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker goroutine. It returns immediately; the worker
// runs until ctx ends. Subsequent calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Add enqueues one file. An identical item (same source identity and
// destination) already in the queue is skipped silently and its ID
// returned. When persisted progress exists for the file, the item is
// seeded as paused so the caller can resume rather than restart.
func (c *Coordinator) Add(localPath, destKey string) (uuid.UUID, error) {
	fi, err := c.fs.Stat(localPath)
	if err != nil {
		return uuid.Nil, bfmerrors.NewError("enqueue", err).WithKey(destKey)
	}
	id := progress.ForUpload(filepath.Dir(localPath), fi.Name(), fi.Size(), fi.ModTime())

	c.mu.Lock()
	for _, it := range c.items {
		if it.Identity == id && it.DestKey == destKey && it.Status != StatusCompleted {
			c.mu.Unlock()
			return it.ID, nil
		}
	}

	item := &Item{
		ID:        uuid.New(),
		LocalPath: localPath,
		Name:      fi.Name(),
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
		DestKey:   destKey,
		Identity:  id,
		Status:    StatusQueued,
	}
	if rec, err := c.prog.LoadUpload(id); err == nil && rec != nil && rec.Key == destKey {
		item.Status = StatusPaused
		item.Resumable = true
		item.Transferred = rec.UploadedSize
	}
	c.items = append(c.items, item)
	c.mu.Unlock()

	c.emit(item)
	c.kick()
	return item.ID, nil
}

// AddAll enqueues several files, skipping duplicates item by item.
func (c *Coordinator) AddAll(reqs []Request) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		id, err := c.Add(req.LocalPath, req.DestKey)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Pause suspends an item. An actively uploading item pauses at its next
// part boundary; a queued item simply stops being eligible.
func (c *Coordinator) Pause(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := c.findLocked(id)
	if it == nil {
		return bfmerrors.NewError("pause", bfmerrors.ErrNotFound)
	}
	switch it.Status {
	case StatusUploading:
		c.engine.Pause(it.Identity)
		it.Status = StatusPaused
	case StatusQueued:
		it.Status = StatusPaused
	}
	return nil
}

// Resume releases a paused item. An item paused mid-transfer continues at
// its next part; one paused before starting returns to the queue.
func (c *Coordinator) Resume(id uuid.UUID) error {
	c.mu.Lock()
	it := c.findLocked(id)
	if it == nil {
		c.mu.Unlock()
		return bfmerrors.NewError("resume", bfmerrors.ErrNotFound)
	}
	if it.Status == StatusPaused {
		if c.engine.Active(it.Identity) {
			c.engine.Resume(it.Identity)
			it.Status = StatusUploading
		} else {
			it.Status = StatusQueued
		}
	}
	c.mu.Unlock()

	c.kick()
	return nil
}

// Retry re-queues an errored item.
func (c *Coordinator) Retry(id uuid.UUID) error {
	c.mu.Lock()
	it := c.findLocked(id)
	if it == nil {
		c.mu.Unlock()
		return bfmerrors.NewError("retry", bfmerrors.ErrNotFound)
	}
	if it.Status == StatusErrored {
		it.Status = StatusQueued
		it.Err = nil
	}
	c.mu.Unlock()

	c.kick()
	return nil
}

// Remove drops an item from the queue and purges its persisted state. An
// actively uploading item is cancelled first; its session is aborted and
// the item dropped once the engine returns.
func (c *Coordinator) Remove(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	it := c.findLocked(id)
	if it == nil {
		c.mu.Unlock()
		return bfmerrors.NewError("remove", bfmerrors.ErrNotFound)
	}
	if c.active == it && c.engine.Active(it.Identity) {
		it.removed = true
		c.engine.Cancel(it.Identity)
		c.mu.Unlock()
		return nil
	}
	c.dropLocked(id)
	c.mu.Unlock()

	return c.purge(ctx, it)
}

// Reconcile surfaces persisted upload records as paused queue items so
// interrupted transfers from a previous run can be resumed. Records
// already byte-complete are purged by the store on listing.
func (c *Coordinator) Reconcile() error {
	recs, err := c.prog.ListUploads("")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
outer:
	for id, rec := range recs {
		for _, it := range c.items {
			if it.Identity == id {
				continue outer
			}
		}
		c.items = append(c.items, &Item{
			ID:          uuid.New(),
			LocalPath:   filepath.Join(identityDir(id), rec.FileName),
			Name:        rec.FileName,
			Size:        rec.TotalSize,
			ModTime:     rec.ModTime,
			DestKey:     rec.Key,
			Identity:    id,
			Status:      StatusPaused,
			Transferred: rec.UploadedSize,
			Resumable:   true,
		})
	}
	return nil
}

// Items returns a snapshot of the queue in arrival order.
func (c *Coordinator) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		snapshot = append(snapshot, it.Clone())
	}
	return snapshot
}

// Item returns a snapshot of one item.
func (c *Coordinator) Item(id uuid.UUID) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := c.findLocked(id)
	if it == nil {
		return Item{}, false
	}
	return it.Clone(), true
}

func (c *Coordinator) run(ctx context.Context) {
	for {
		it := c.next()
		if it == nil {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}
		c.process(ctx, it)
	}
}

// next claims the front-most queued item, or nil when the queue is idle
// or an item is already active.
func (c *Coordinator) next() *Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil
	}
	for _, it := range c.items {
		if it.Status == StatusQueued {
			it.Status = StatusUploading
			c.active = it
			return it
		}
	}
	return nil
}

func (c *Coordinator) process(ctx context.Context, it *Item) {
	c.emit(it)

	var err error
	if it.Size < c.engine.Threshold() {
		err = c.putSmall(ctx, it)
	} else {
		err = c.engine.Upload(ctx, it.LocalPath, it.DestKey, func(transferred, total int64) {
			c.mu.Lock()
			it.Transferred = transferred
			c.mu.Unlock()
			c.emit(it)
		})
	}

	c.mu.Lock()
	c.active = nil
	switch {
	case err == nil:
		it.Status = StatusCompleted
		it.Transferred = it.Size
		c.expireLater(it.ID)
	case bfmerrors.IsCancelled(err):
		if it.removed {
			c.dropLocked(it.ID)
			c.mu.Unlock()
			_ = c.purge(ctx, it)
			c.kick()
			return
		}
		it.Status = StatusPaused
	default:
		it.Status = StatusErrored
		it.Err = err
	}
	c.mu.Unlock()

	c.emit(it)
	c.kick()
}

func (c *Coordinator) putSmall(ctx context.Context, it *Item) error {
	data, err := util.ReadFile(c.fs, it.LocalPath)
	if err != nil {
		return bfmerrors.NewError("upload", err).WithKey(it.DestKey)
	}
	if err := c.small.Put(ctx, it.DestKey, data, ""); err != nil {
		return err
	}
	c.mu.Lock()
	it.Transferred = it.Size
	c.mu.Unlock()
	return nil
}

// purge aborts the item's multipart session and removes its persisted
// records, including the record keyed by the file's current attributes
// when the file changed since enqueue.
func (c *Coordinator) purge(ctx context.Context, it *Item) error {
	if err := c.engine.AbortUpload(ctx, it.Identity); err != nil {
		return err
	}
	if fi, err := c.fs.Stat(it.LocalPath); err == nil {
		current := progress.ForUpload(filepath.Dir(it.LocalPath), fi.Name(), fi.Size(), fi.ModTime())
		if current != it.Identity {
			return c.prog.ClearUpload(current)
		}
	}
	return nil
}

func (c *Coordinator) expireLater(id uuid.UUID) {
	time.AfterFunc(c.expiry, func() {
		c.mu.Lock()
		c.dropLocked(id)
		c.mu.Unlock()
	})
}

func (c *Coordinator) findLocked(id uuid.UUID) *Item {
	for _, it := range c.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (c *Coordinator) dropLocked(id uuid.UUID) {
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) emit(it *Item) {
	if c.notify == nil {
		return
	}
	c.mu.Lock()
	snapshot := it.Clone()
	c.mu.Unlock()
	c.notify(snapshot)
}

// identityDir extracts the directory component of an upload identity.
func identityDir(id progress.Identity) string {
	if i := strings.IndexByte(string(id), '|'); i >= 0 {
		return string(id)[:i]
	}
	return ""
}
