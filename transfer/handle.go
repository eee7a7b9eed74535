package transfer

import (
	"context"
	"sync"

	bfmerrors "github.com/bucketfm/bucketfm/errors"
)

// handle carries the pause/cancel state of one running transfer. A paused
// transfer blocks inside checkpoint on the condition variable instead of
// polling; resume and cancel broadcast to wake it.
type handle struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
}

func newHandle() *handle {
	h := &handle{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *handle) pause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *handle) resume() {
	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
	h.cond.Broadcast()
}

func (h *handle) cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cond.Broadcast()
}

func (h *handle) isPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// checkpoint blocks while the transfer is paused and returns ErrCancelled
// once it is cancelled or the context ends. Transfers call it between
// chunks, never mid-chunk, so the persisted record always sits on a chunk
// boundary.
func (h *handle) checkpoint(ctx context.Context) error {
	// Wake the wait loop when the context ends.
	stop := context.AfterFunc(ctx, func() {
		h.cond.Broadcast()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for h.paused && !h.cancelled && ctx.Err() == nil {
		h.cond.Wait()
	}
	if h.cancelled || ctx.Err() != nil {
		return bfmerrors.NewError("transfer", bfmerrors.ErrCancelled)
	}
	return nil
}
