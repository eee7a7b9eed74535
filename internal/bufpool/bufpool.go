// Package bufpool provides reusable fixed-size chunk buffers to reduce
// allocations during sequential chunk transfers.
package bufpool

import (
	"sync"
)

// Pool manages reusable byte buffers of a single fixed size.
// Transfers read every chunk into a buffer of the nominal chunk size,
// so one bucket is enough.
type Pool struct {
	size int
	pool *sync.Pool
}

// New creates a pool handing out buffers of the given size in bytes.
func New(size int) *Pool {
	return &Pool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get returns a buffer of the pool's full size.
// The caller is responsible for calling Put to return it.
func (p *Pool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool. Buffers of a different capacity
// (never handed out by this pool) are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Size returns the fixed buffer size this pool serves.
func (p *Pool) Size() int {
	return p.size
}
