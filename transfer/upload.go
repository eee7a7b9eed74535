package transfer

import (
	"context"
	"path/filepath"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/objstore"
	"github.com/bucketfm/bucketfm/progress"
)

// Upload transfers the local file at localPath to destKey as a multipart
// session, persisting progress after every acknowledged part.
//
// When a persisted record exists for the same file (same directory, name,
// size, and modification time), the open session is resumed and already
// acknowledged parts are skipped. Editing the file changes its identity,
// so stale progress is never reattached.
//
// Files below the resumable threshold are rejected with
// ErrTooSmallForResumable; callers send those through the single-shot
// path instead.
func (e *Engine) Upload(ctx context.Context, localPath, destKey string, onProgress ProgressFunc) error {
	fi, err := e.fs.Stat(localPath)
	if err != nil {
		return bfmerrors.NewError("upload", err).WithKey(destKey)
	}
	size := fi.Size()
	if size < e.threshold {
		return bfmerrors.NewError("upload", bfmerrors.ErrTooSmallForResumable).WithKey(destKey)
	}

	id := progress.ForUpload(filepath.Dir(localPath), fi.Name(), size, fi.ModTime())
	h, err := e.register(id)
	if err != nil {
		return err
	}
	defer e.unregister(id)

	rec, err := e.prog.LoadUpload(id)
	if err != nil {
		return err
	}
	// A record for the same file but a different destination belongs to
	// an abandoned transfer; start over.
	if rec != nil && rec.Key != destKey {
		if err := e.prog.ClearUpload(id); err != nil {
			return err
		}
		rec = nil
	}

	if rec == nil {
		sessionID, err := e.store.InitMultipart(ctx, destKey, objstore.DetectContentType(fi.Name(), nil))
		if err != nil {
			return err
		}
		rec = &progress.UploadRecord{
			SessionID: sessionID,
			Key:       destKey,
			FileName:  fi.Name(),
			TotalSize: size,
			ModTime:   fi.ModTime(),
			Parts:     make(map[int32]progress.PartState),
		}
		if err := e.prog.SaveUpload(id, rec); err != nil {
			return err
		}
	}

	f, err := e.fs.Open(localPath)
	if err != nil {
		return bfmerrors.NewError("upload", err).WithKey(destKey)
	}
	defer func() { _ = f.Close() }()

	numParts := int32((size + e.chunkSize - 1) / e.chunkSize)
	for part := int32(1); part <= numParts; part++ {
		if _, done := rec.Parts[part]; done {
			continue
		}
		if err := h.checkpoint(ctx); err != nil {
			return err
		}

		offset := int64(part-1) * e.chunkSize
		partLen := e.chunkSize
		if remaining := size - offset; remaining < partLen {
			partLen = remaining
		}

		buf := e.bufs.Get()[:partLen]
		if _, err := f.ReadAt(buf, offset); err != nil {
			e.bufs.Put(buf)
			return bfmerrors.NewError("upload", err).WithKey(destKey)
		}

		etag, err := e.store.UploadPart(ctx, rec.SessionID, destKey, part, buf)
		e.bufs.Put(buf)
		if err != nil {
			return err
		}

		// Persist before reporting: the record must never trail what
		// callbacks have claimed.
		rec.Parts[part] = progress.PartState{ETag: etag, Size: partLen}
		rec.UploadedSize += partLen
		if err := e.prog.SaveUpload(id, rec); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(rec.UploadedSize, size)
		}
	}

	parts := make([]objstore.CompletedPart, 0, len(rec.Parts))
	for _, n := range rec.PartNumbers() {
		parts = append(parts, objstore.CompletedPart{
			PartNumber: n,
			ETag:       rec.Parts[n].ETag,
		})
	}
	if err := e.store.CompleteMultipart(ctx, rec.SessionID, destKey, parts); err != nil {
		return err
	}
	return e.prog.ClearUpload(id)
}

// AbortUpload discards an interrupted upload: the open multipart session
// is aborted at the store and the persisted record is removed. Fails with
// ErrTransferActive while an invocation for the identity is running;
// cancel it first.
func (e *Engine) AbortUpload(ctx context.Context, id progress.Identity) error {
	if e.Active(id) {
		return bfmerrors.NewError("abortUpload", bfmerrors.ErrTransferActive)
	}
	rec, err := e.prog.LoadUpload(id)
	if err != nil {
		return err
	}
	if rec != nil && rec.SessionID != "" {
		if err := e.store.AbortMultipart(ctx, rec.SessionID, rec.Key); err != nil {
			return err
		}
	}
	return e.prog.ClearUpload(id)
}
