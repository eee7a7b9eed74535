package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/bucketfm/bucketfm/progress"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusQueued means the item is waiting for the worker.
	StatusQueued Status = "queued"

	// StatusUploading means the item is the active upload.
	StatusUploading Status = "uploading"

	// StatusPaused means the item is suspended, either mid-transfer or
	// before it started.
	StatusPaused Status = "paused"

	// StatusCompleted means the upload finished; the item expires from
	// the queue shortly after.
	StatusCompleted Status = "completed"

	// StatusErrored means the upload failed; retry re-queues it.
	StatusErrored Status = "errored"
)

// Item is the in-memory representation of one enqueued upload. It lives
// independently of persisted progress: removing an item purges its
// records, but a persisted record can outlive the queue across restarts.
type Item struct {
	// ID uniquely identifies the item within the queue
	ID uuid.UUID

	// LocalPath is the source file path
	LocalPath string

	// Name is the source file's base name
	Name string

	// Size is the source file size in bytes
	Size int64

	// ModTime is the source file's modification time at enqueue
	ModTime time.Time

	// DestKey is the destination object key
	DestKey string

	// Identity is the transfer identity derived from the source file
	Identity progress.Identity

	// Status is the current lifecycle state
	Status Status

	// Transferred is the bytes acknowledged so far
	Transferred int64

	// Resumable marks items seeded from persisted progress
	Resumable bool

	// Err holds the failure for errored items
	Err error

	// removed marks an item whose cancellation should also purge its
	// persisted state
	removed bool
}

// Percent returns the completion percentage, 0 to 100.
func (it *Item) Percent() float64 {
	if it.Size <= 0 {
		return 0
	}
	return float64(it.Transferred) / float64(it.Size) * 100
}

// Clone returns a copy safe to hand to callers while the worker keeps
// mutating the original.
func (it *Item) Clone() Item {
	c := *it
	return c
}
