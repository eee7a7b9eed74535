package transfer

import (
	"context"
	"fmt"
	"path"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
	"github.com/bucketfm/bucketfm/progress"
)

// Download fetches the object at key in fixed-size ranges and returns the
// assembled content. Each fetched range is persisted before it is
// reported, so an interrupted download resumes with only the missing
// ranges.
//
// Chunk bytes live in memory only for the current invocation; ranges that
// were fetched by an earlier invocation are re-fetched during assembly.
// The persisted record is validated against the remote object's size and
// modification time, and discarded when the object changed.
//
// Objects below the resumable threshold are rejected with
// ErrTooSmallForResumable; callers fetch those in one request instead.
func (e *Engine) Download(ctx context.Context, key, fileName string, onProgress ProgressFunc) ([]byte, error) {
	meta, err := e.store.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	size := meta.Size
	if size < e.threshold {
		return nil, bfmerrors.NewError("download", bfmerrors.ErrTooSmallForResumable).WithKey(key)
	}

	id := progress.ForDownload(path.Dir(key), fileName)
	h, err := e.register(id)
	if err != nil {
		return nil, err
	}
	defer e.unregister(id)

	rec, err := e.prog.LoadDownload(id)
	if err != nil {
		return nil, err
	}
	// The remote object changed since the record was written; its
	// ranges no longer describe the same bytes.
	if rec != nil && (rec.TotalSize != size || !rec.ModTime.Equal(meta.LastModified)) {
		if err := e.prog.ClearDownload(id); err != nil {
			return nil, err
		}
		rec = nil
	}

	if rec == nil {
		rec = &progress.DownloadRecord{
			Key:       key,
			FileName:  fileName,
			TotalSize: size,
			ModTime:   meta.LastModified,
			Chunks:    splitChunks(size, e.chunkSize),
		}
		if err := e.prog.SaveDownload(id, rec); err != nil {
			return nil, err
		}
	}

	data := make([]byte, size)
	fetched := make([]bool, len(rec.Chunks))

	for i := range rec.Chunks {
		ch := rec.Chunks[i]
		if ch.Done {
			continue
		}
		if err := h.checkpoint(ctx); err != nil {
			return nil, err
		}

		chunk, err := e.fetchChunk(ctx, key, ch)
		if err != nil {
			return nil, err
		}
		copy(data[ch.Start:ch.End+1], chunk)
		fetched[i] = true

		rec.Chunks[i].Done = true
		rec.DownloadedSize += ch.End - ch.Start + 1
		if err := e.prog.SaveDownload(id, rec); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(rec.DownloadedSize, size)
		}
	}

	// Ranges fetched by an earlier invocation were persisted as done but
	// their bytes are gone; fetch them again to assemble the result.
	for i := range rec.Chunks {
		ch := rec.Chunks[i]
		if !ch.Done || fetched[i] {
			continue
		}
		if err := h.checkpoint(ctx); err != nil {
			return nil, err
		}
		chunk, err := e.fetchChunk(ctx, key, ch)
		if err != nil {
			return nil, err
		}
		copy(data[ch.Start:ch.End+1], chunk)
	}

	if err := e.prog.ClearDownload(id); err != nil {
		return nil, err
	}
	return data, nil
}

// DiscardDownload removes the persisted record of an interrupted
// download. Fails with ErrTransferActive while an invocation for the
// identity is running.
func (e *Engine) DiscardDownload(id progress.Identity) error {
	if e.Active(id) {
		return bfmerrors.NewError("discardDownload", bfmerrors.ErrTransferActive)
	}
	return e.prog.ClearDownload(id)
}

func (e *Engine) fetchChunk(ctx context.Context, key string, ch progress.ChunkState) ([]byte, error) {
	chunk, err := e.store.RangeGet(ctx, key, ch.Start, ch.End)
	if err != nil {
		return nil, err
	}
	if want := ch.End - ch.Start + 1; int64(len(chunk)) != want {
		return nil, bfmerrors.NewError("download", bfmerrors.ErrInvalidRange).
			WithKey(key).
			WithMessage(fmt.Sprintf("range bytes=%d-%d returned %d bytes", ch.Start, ch.End, len(chunk)))
	}
	return chunk, nil
}

// splitChunks divides [0, size) into inclusive ranges of at most chunkSize
// bytes each.
func splitChunks(size, chunkSize int64) []progress.ChunkState {
	chunks := make([]progress.ChunkState, 0, (size+chunkSize-1)/chunkSize)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		chunks = append(chunks, progress.ChunkState{Start: start, End: end})
	}
	return chunks
}
