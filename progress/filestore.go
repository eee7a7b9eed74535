package progress

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/bucketfm/bucketfm/errors"
)

const (
	uploadsFile   = "uploads.json"
	downloadsFile = "downloads.json"
)

// FileStore persists progress records as JSON files on a filesystem.
// Uploads and downloads each live in one file holding an identity-to-record
// map. Writes go through a temp file and rename, so a crash mid-write
// leaves the previous snapshot intact.
//
// FileStore is safe for concurrent use.
type FileStore struct {
	mu  sync.Mutex
	fs  billy.Filesystem
	now func() time.Time
}

// NewFileStore creates a store rooted at dir on the given filesystem.
// Tests pass memfs; production callers use OpenDefault.
func NewFileStore(fs billy.Filesystem, dir string) (*FileStore, error) {
	if dir != "" && dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewError("progressInit", err)
		}
		fs = chroot(fs, dir)
	}
	return &FileStore{fs: fs, now: time.Now}, nil
}

// OpenDefault creates a store at the platform data directory
// (e.g. ~/.local/share/bucketfm/progress on Linux).
func OpenDefault() (*FileStore, error) {
	return NewFileStore(osfs.New(xdg.DataHome), filepath.Join("bucketfm", "progress"))
}

func chroot(fs billy.Filesystem, dir string) billy.Filesystem {
	sub, err := fs.Chroot(dir)
	if err != nil {
		return fs
	}
	return sub
}

// SaveUpload persists an upload record, replacing any previous one.
func (s *FileStore) SaveUpload(id Identity, rec *UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readUploads()
	if err != nil {
		return err
	}
	rec.UpdatedAt = s.now()
	records[id] = rec
	return s.write(uploadsFile, records)
}

// LoadUpload returns the record for the identity, or nil when none is
// resumable. Byte-complete records are purged rather than returned.
func (s *FileStore) LoadUpload(id Identity) (*UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readUploads()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, nil
	}
	if rec.Complete() {
		delete(records, id)
		if err := s.write(uploadsFile, records); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// ClearUpload removes the record for the identity.
func (s *FileStore) ClearUpload(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readUploads()
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return nil
	}
	delete(records, id)
	return s.write(uploadsFile, records)
}

// ListUploads returns resumable upload records whose identity starts with
// the prefix. Complete records found along the way are purged.
func (s *FileStore) ListUploads(prefix string) (map[Identity]*UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readUploads()
	if err != nil {
		return nil, err
	}
	result := make(map[Identity]*UploadRecord)
	purged := false
	for id, rec := range records {
		if rec.Complete() {
			delete(records, id)
			purged = true
			continue
		}
		if strings.HasPrefix(string(id), prefix) {
			result[id] = rec
		}
	}
	if purged {
		if err := s.write(uploadsFile, records); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ClearAllUploads removes every upload record.
func (s *FileStore) ClearAllUploads() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(uploadsFile, map[Identity]*UploadRecord{})
}

// SaveDownload persists a download record, replacing any previous one.
func (s *FileStore) SaveDownload(id Identity, rec *DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readDownloads()
	if err != nil {
		return err
	}
	rec.UpdatedAt = s.now()
	records[id] = rec
	return s.write(downloadsFile, records)
}

// LoadDownload returns the record for the identity, or nil when none is
// resumable. Byte-complete records are purged rather than returned.
func (s *FileStore) LoadDownload(id Identity) (*DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readDownloads()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, nil
	}
	if rec.Complete() {
		delete(records, id)
		if err := s.write(downloadsFile, records); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// ClearDownload removes the record for the identity.
func (s *FileStore) ClearDownload(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readDownloads()
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return nil
	}
	delete(records, id)
	return s.write(downloadsFile, records)
}

// ListDownloads returns resumable download records whose identity starts
// with the prefix. Complete records found along the way are purged.
func (s *FileStore) ListDownloads(prefix string) (map[Identity]*DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readDownloads()
	if err != nil {
		return nil, err
	}
	result := make(map[Identity]*DownloadRecord)
	purged := false
	for id, rec := range records {
		if rec.Complete() {
			delete(records, id)
			purged = true
			continue
		}
		if strings.HasPrefix(string(id), prefix) {
			result[id] = rec
		}
	}
	if purged {
		if err := s.write(downloadsFile, records); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ClearAllDownloads removes every download record.
func (s *FileStore) ClearAllDownloads() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(downloadsFile, map[Identity]*DownloadRecord{})
}

func (s *FileStore) readUploads() (map[Identity]*UploadRecord, error) {
	records := make(map[Identity]*UploadRecord)
	if err := s.read(uploadsFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *FileStore) readDownloads() (map[Identity]*DownloadRecord, error) {
	records := make(map[Identity]*DownloadRecord)
	if err := s.read(downloadsFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *FileStore) read(name string, out interface{}) error {
	f, err := s.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewError("progressRead", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return errors.NewError("progressRead", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt snapshot is unrecoverable; start over rather
		// than wedge every transfer.
		return nil
	}
	return nil
}

func (s *FileStore) write(name string, records interface{}) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.NewError("progressWrite", err)
	}
	tmp := name + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.NewError("progressWrite", err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return errors.NewError("progressWrite", err)
	}
	return nil
}
