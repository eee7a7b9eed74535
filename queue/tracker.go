package queue

import (
	"context"
	"path"
	"sync"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/progress"
	"github.com/bucketfm/bucketfm/transfer"
)

// Tracker follows in-flight downloads. Downloads hold no exclusive store
// session, so they run concurrently; the tracker only refuses a second
// download of the same identity and surfaces persisted records that no
// running download owns as resumable.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	engine *transfer.Engine
	prog   progress.Store

	mu     sync.Mutex
	active map[progress.Identity]bool
}

// NewTracker creates a download tracker over the given engine.
func NewTracker(engine *transfer.Engine, prog progress.Store) *Tracker {
	return &Tracker{
		engine: engine,
		prog:   prog,
		active: make(map[progress.Identity]bool),
	}
}

// Download fetches the object at key through the engine's resumable path,
// running in the caller's goroutine. A second call for the same identity
// while one is in flight fails with ErrTransferActive.
func (t *Tracker) Download(ctx context.Context, key, fileName string, onProgress transfer.ProgressFunc) ([]byte, error) {
	id := progress.ForDownload(path.Dir(key), fileName)

	t.mu.Lock()
	if t.active[id] {
		t.mu.Unlock()
		return nil, bfmerrors.NewError("download", bfmerrors.ErrTransferActive).WithKey(key)
	}
	t.active[id] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.active, id)
		t.mu.Unlock()
	}()

	return t.engine.Download(ctx, key, fileName, onProgress)
}

// Resume re-invokes the download recorded under the identity. Returns
// ErrNotFound when no persisted record exists.
func (t *Tracker) Resume(ctx context.Context, id progress.Identity, onProgress transfer.ProgressFunc) ([]byte, error) {
	rec, err := t.prog.LoadDownload(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, bfmerrors.NewError("resumeDownload", bfmerrors.ErrNotFound)
	}
	return t.Download(ctx, rec.Key, rec.FileName, onProgress)
}

// Cancel purges the persisted record for the identity. An in-flight
// download is not interrupted; it keeps running and re-saves its progress
// on the next chunk, so cancellation of a running download is best-effort.
func (t *Tracker) Cancel(id progress.Identity) error {
	return t.prog.ClearDownload(id)
}

// Active reports whether a download with the identity is in flight.
func (t *Tracker) Active(id progress.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[id]
}

// Resumable returns persisted download records that no in-flight download
// owns, keyed by identity.
func (t *Tracker) Resumable() (map[progress.Identity]*progress.DownloadRecord, error) {
	recs, err := t.prog.ListDownloads("")
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range recs {
		if t.active[id] {
			delete(recs, id)
		}
	}
	return recs, nil
}
