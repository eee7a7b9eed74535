// Package progress persists transfer progress so interrupted uploads and
// downloads survive process restarts.
//
// Records are keyed by a transfer identity derived from stable attributes
// of the source. An upload identity includes the local file's size and
// modification time, so editing the file invalidates its saved progress;
// a download identity is the remote path and name, with staleness checked
// against remote metadata at resume time instead.
package progress

import (
	"fmt"
	"sort"
	"time"
)

// Identity uniquely names one logical transfer for progress bookkeeping.
// Two invocations with the same identity resume the same record.
type Identity string

// ForUpload derives the identity of an upload from the local file's
// directory, name, size, and modification time.
func ForUpload(dir, name string, size int64, modTime time.Time) Identity {
	return Identity(fmt.Sprintf("%s|%s|%d|%d", dir, name, size, modTime.UnixNano()))
}

// ForDownload derives the identity of a download from the remote prefix
// and object name. Size and modification time are intentionally excluded:
// they are verified against the remote object when the record is loaded.
func ForDownload(dir, name string) Identity {
	return Identity(dir + "|" + name)
}

// PartState records one acknowledged part of an upload session.
type PartState struct {
	// ETag the store returned for the part
	ETag string `json:"etag"`

	// Size of the part in bytes
	Size int64 `json:"size"`
}

// UploadRecord is the persisted state of an interrupted multipart upload.
type UploadRecord struct {
	// SessionID is the open multipart session at the store
	SessionID string `json:"session_id"`

	// Key is the destination object key
	Key string `json:"key"`

	// FileName is the base name of the local source file
	FileName string `json:"file_name"`

	// TotalSize is the source file size in bytes
	TotalSize int64 `json:"total_size"`

	// ModTime is the source file's modification time when the
	// transfer began
	ModTime time.Time `json:"mod_time"`

	// Parts maps part number to its acknowledged state
	Parts map[int32]PartState `json:"parts"`

	// UploadedSize is the sum of acknowledged part sizes
	UploadedSize int64 `json:"uploaded_size"`

	// UpdatedAt is when the record was last saved
	UpdatedAt time.Time `json:"updated_at"`
}

// Complete reports whether every byte of the source has been acknowledged.
func (r *UploadRecord) Complete() bool {
	return r.TotalSize > 0 && r.UploadedSize == r.TotalSize
}

// PartNumbers returns the acknowledged part numbers in ascending order.
func (r *UploadRecord) PartNumbers() []int32 {
	nums := make([]int32, 0, len(r.Parts))
	for n := range r.Parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// ChunkState records one byte range of a download and whether it has been
// fetched. Bounds are inclusive.
type ChunkState struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Done  bool  `json:"done"`
}

// DownloadRecord is the persisted state of an interrupted chunked download.
type DownloadRecord struct {
	// Key is the remote object key
	Key string `json:"key"`

	// FileName is the object's base name
	FileName string `json:"file_name"`

	// TotalSize is the remote object size in bytes
	TotalSize int64 `json:"total_size"`

	// ModTime is the remote object's modification time when the
	// transfer began; a mismatch at resume time voids the record
	ModTime time.Time `json:"mod_time"`

	// Chunks lists the fixed byte ranges in ascending order
	Chunks []ChunkState `json:"chunks"`

	// DownloadedSize is the sum of fetched chunk sizes
	DownloadedSize int64 `json:"downloaded_size"`

	// UpdatedAt is when the record was last saved
	UpdatedAt time.Time `json:"updated_at"`
}

// Complete reports whether every byte of the object has been fetched.
func (r *DownloadRecord) Complete() bool {
	return r.TotalSize > 0 && r.DownloadedSize == r.TotalSize
}

// Store persists transfer progress records.
//
// Loads purge records that are already byte-complete: a complete record
// means the transfer finished but the final purge was lost, and resuming
// it would re-finalize a done transfer.
type Store interface {
	// SaveUpload persists an upload record under its identity,
	// replacing any previous record. Last write wins.
	SaveUpload(id Identity, rec *UploadRecord) error

	// LoadUpload returns the record for the identity, or nil when no
	// resumable record exists.
	LoadUpload(id Identity) (*UploadRecord, error)

	// ClearUpload removes the record for the identity. Clearing a
	// missing record succeeds.
	ClearUpload(id Identity) error

	// ListUploads returns all resumable upload records whose identity
	// starts with the given prefix, keyed by identity. An empty prefix
	// matches everything.
	ListUploads(prefix string) (map[Identity]*UploadRecord, error)

	// ClearAllUploads removes every upload record.
	ClearAllUploads() error

	// SaveDownload persists a download record under its identity.
	SaveDownload(id Identity, rec *DownloadRecord) error

	// LoadDownload returns the record for the identity, or nil when no
	// resumable record exists.
	LoadDownload(id Identity) (*DownloadRecord, error)

	// ClearDownload removes the record for the identity.
	ClearDownload(id Identity) error

	// ListDownloads returns all resumable download records whose
	// identity starts with the given prefix, keyed by identity.
	ListDownloads(prefix string) (map[Identity]*DownloadRecord, error)

	// ClearAllDownloads removes every download record.
	ClearAllDownloads() error
}
