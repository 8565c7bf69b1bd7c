package payload

import (
	"sync"
	"sync/atomic"
)

// Pool hands out reference-counted payload buffers. Payload bytes are shared
// by reference between the source and every component that retained them; the
// backing array is recycled only once the last reference is released.
//
// The pool must outlive every handler that received payloads from it.
type Pool struct {
	buffers sync.Pool
	live    atomic.Int64
}

func NewPool() *Pool {
	return &Pool{
		buffers: sync.Pool{
			New: func() interface{} {
				return []byte(nil)
			},
		},
	}
}

// Acquire returns a payload of length n with a single reference.
func (p *Pool) Acquire(n int) *Payload {
	buf, _ := p.buffers.Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]

	pl := &Payload{pool: p, data: buf}
	pl.refs.Store(1)
	p.live.Add(1)
	return pl
}

// Wrap adopts an externally allocated buffer into a payload with a single
// reference. The caller must not mutate b afterwards.
func (p *Pool) Wrap(b []byte) *Payload {
	pl := &Payload{pool: p, data: b, external: true}
	pl.refs.Store(1)
	p.live.Add(1)
	return pl
}

// Live reports the number of payloads with at least one outstanding reference.
func (p *Pool) Live() int64 {
	return p.live.Load()
}

// Payload is an opaque handle over a byte buffer owned by the pool.
type Payload struct {
	pool     *Pool
	data     []byte
	refs     atomic.Int32
	external bool
}

// Bytes exposes the payload contents. The slice stays valid while the caller
// holds a reference.
func (p *Payload) Bytes() []byte {
	return p.data
}

func (p *Payload) Len() int {
	return len(p.data)
}

// Retain adds a reference. Every Retain must be paired with a Release.
func (p *Payload) Retain() *Payload {
	if p.refs.Add(1) <= 1 {
		panic("payload: retain after final release")
	}
	return p
}

// Release drops a reference. On the last release the buffer returns to the pool.
func (p *Payload) Release() {
	n := p.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("payload: release without matching retain")
	}

	p.pool.live.Add(-1)
	if !p.external {
		p.pool.buffers.Put(p.data[:0])
	}
	p.data = nil
}
