package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_GetReturnsFullSize(t *testing.T) {
	p := New(1024)
	buf := p.Get()
	assert.Len(t, buf, 1024)
	assert.Equal(t, 1024, p.Size())
	p.Put(buf)
}

func TestPool_ReusesBuffers(t *testing.T) {
	p := New(64)
	buf := p.Get()
	buf[0] = 0xFF
	p.Put(buf)

	// A recycled buffer keeps its full length even if the caller
	// shortened it before returning.
	short := p.Get()[:10]
	p.Put(short)
	again := p.Get()
	assert.Len(t, again, 64)
}

func TestPool_DropsForeignBuffers(t *testing.T) {
	p := New(32)
	// Wrong capacity is dropped, not recycled.
	p.Put(make([]byte, 16))
	buf := p.Get()
	assert.Len(t, buf, 32)
}
