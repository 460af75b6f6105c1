package queue

import (
	"sync"
	"sync/atomic"
)

// Pool hands out scheduler metadata objects without blocking. It never
// has more than limit objects outstanding: Get fails instead, the way an
// atomic-context allocation may fail and leave the caller to retry.
type Pool[T any] struct {
	pool  sync.Pool
	limit int64
	inUse atomic.Int64
}

// NewPool creates a pool that allows at most limit outstanding objects.
// A limit <= 0 means unbounded.
func NewPool[T any](limit int) *Pool[T] {
	return &Pool[T]{
		pool:  sync.Pool{New: func() any { return new(T) }},
		limit: int64(limit),
	}
}

// Get returns a zeroed object, or false when the pool is exhausted
func (p *Pool[T]) Get() (*T, bool) {
	if n := p.inUse.Add(1); p.limit > 0 && n > p.limit {
		p.inUse.Add(-1)
		return nil, false
	}
	v := p.pool.Get().(*T)
	var zero T
	*v = zero
	return v, true
}

// Put returns an object obtained from Get
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	p.inUse.Add(-1)
	p.pool.Put(v)
}

// InUse returns the number of outstanding objects
func (p *Pool[T]) InUse() int {
	return int(p.inUse.Load())
}

// Limit returns the configured bound
func (p *Pool[T]) Limit() int {
	return int(p.limit)
}

// Buffer size thresholds for merged request payloads
const (
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

// globalPool is the shared payload buffer pool for all runners.
// Uses pointer-to-slice pattern for efficient sync.Pool usage.
var globalPool = struct {
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetBuffer returns a buffer of exactly size bytes, pooled when size fits
// a bucket. Caller must call PutBuffer when done.
func GetBuffer(size uint32) []byte {
	switch {
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
