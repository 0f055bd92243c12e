// Package bufferpool provides pooled byte buffers and owned payload blocks.
package bufferpool

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/btsink/internal/errors"
)

// BufferPool is a thread-safe pool of fixed-size byte slices backed by
// sync.Pool. Buffers of the wrong size are discarded on Put.
type BufferPool struct {
	pool      sync.Pool
	size      int
	gets      atomic.Uint64 // Total number of Get calls
	news      atomic.Uint64 // Number of new allocations from pool.New
	discarded atomic.Uint64 // Number of buffers discarded due to size mismatch
}

// NewBufferPool creates a pool handing out buffers of exactly size bytes.
func NewBufferPool(size int) (*BufferPool, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid buffer size: %d, must be greater than 0", size).
			Component("bufferpool").
			Category(errors.CategoryValidation).
			Context("operation", "create_buffer_pool").
			Context("requested_size", size).
			Build()
	}

	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		bp.news.Add(1)
		return make([]byte, size)
	}
	return bp, nil
}

// Size returns the buffer size served by this pool.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a buffer from the pool. Contents are not cleared.
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	buf, ok := bp.pool.Get().([]byte)
	if ok && len(buf) == bp.size {
		return buf
	}
	bp.discarded.Add(1)
	bp.news.Add(1)
	return make([]byte, bp.size)
}

// Put returns a buffer to the pool for reuse.
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		bp.discarded.Add(1)
		return
	}
	//nolint:staticcheck // SA6002: sync.Pool is designed to work with slices
	bp.pool.Put(buf)
}

// BufferPoolStats holds pool efficiency counters.
type BufferPoolStats struct {
	Hits      uint64 // Gets served from the pool
	Misses    uint64 // New allocations
	Discarded uint64 // Buffers dropped due to size mismatch
}

// GetStats returns the current pool statistics.
func (bp *BufferPool) GetStats() BufferPoolStats {
	gets := bp.gets.Load()
	news := bp.news.Load()
	var hits uint64
	if gets > news {
		hits = gets - news
	}
	return BufferPoolStats{
		Hits:      hits,
		Misses:    news,
		Discarded: bp.discarded.Load(),
	}
}
