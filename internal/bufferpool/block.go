package bufferpool

import (
	"sync/atomic"

	"github.com/tphakala/btsink/internal/errors"
)

// minClassSize is the smallest size class. Classes double up to the
// allocator's maximum block size.
const minClassSize = 64

var (
	// ErrBlockTooLarge is returned when a block exceeds the allocator limit.
	ErrBlockTooLarge = errors.NewStd("block exceeds allocator limit")
	// ErrInvalidSize is returned for non-positive block sizes.
	ErrInvalidSize = errors.NewStd("block size must be positive")
	// ErrDoubleRelease is returned when a block is released twice.
	ErrDoubleRelease = errors.NewStd("block already released")
)

// Allocator hands out exactly-sized owned blocks backed by size-classed
// buffer pools and tracks how many are outstanding.
type Allocator struct {
	classes     []*BufferPool
	maxSize     int
	outstanding atomic.Int64
	allocs      atomic.Uint64
	releases    atomic.Uint64
	failures    atomic.Uint64
	doubleFrees atomic.Uint64
}

// NewAllocator creates an allocator serving blocks of up to maxSize bytes.
func NewAllocator(maxSize int) (*Allocator, error) {
	if maxSize <= 0 {
		return nil, errors.Newf("invalid allocator limit: %d", maxSize).
			Component("bufferpool").
			Category(errors.CategoryValidation).
			Build()
	}

	a := &Allocator{maxSize: maxSize}
	for size := minClassSize; ; size *= 2 {
		bp, err := NewBufferPool(size)
		if err != nil {
			return nil, err
		}
		a.classes = append(a.classes, bp)
		if size >= maxSize {
			break
		}
	}
	return a, nil
}

// MaxSize returns the largest block the allocator will hand out.
func (a *Allocator) MaxSize() int {
	return a.maxSize
}

// Alloc returns an owned block of n bytes. The caller must Release it exactly once.
func (a *Allocator) Alloc(n int) (*Block, error) {
	switch {
	case n <= 0:
		a.failures.Add(1)
		return nil, ErrInvalidSize
	case n > a.maxSize:
		a.failures.Add(1)
		return nil, errors.New(ErrBlockTooLarge).
			Component("bufferpool").
			Category(errors.CategoryLimit).
			Context("requested_size", n).
			Context("max_size", a.maxSize).
			Build()
	}

	pool := a.classFor(n)
	a.allocs.Add(1)
	a.outstanding.Add(1)
	return &Block{buf: pool.Get(), n: n, pool: pool, owner: a}, nil
}

func (a *Allocator) classFor(n int) *BufferPool {
	for _, c := range a.classes {
		if c.Size() >= n {
			return c
		}
	}
	return a.classes[len(a.classes)-1]
}

// Outstanding returns the number of blocks allocated and not yet released.
func (a *Allocator) Outstanding() int64 {
	return a.outstanding.Load()
}

// AllocatorStats summarizes allocator activity.
type AllocatorStats struct {
	Allocs         uint64
	Releases       uint64
	Failures       uint64
	DoubleReleases uint64
	Outstanding    int64
}

// GetStats returns allocator counters.
func (a *Allocator) GetStats() AllocatorStats {
	return AllocatorStats{
		Allocs:         a.allocs.Load(),
		Releases:       a.releases.Load(),
		Failures:       a.failures.Load(),
		DoubleReleases: a.doubleFrees.Load(),
		Outstanding:    a.outstanding.Load(),
	}
}

// Block is an owned byte region. It is valid until Release.
type Block struct {
	buf      []byte
	n        int
	pool     *BufferPool
	owner    *Allocator
	released atomic.Bool
}

// Bytes returns the block contents. The slice must not be used after Release.
func (b *Block) Bytes() []byte {
	return b.buf[:b.n]
}

// Len returns the block size in bytes.
func (b *Block) Len() int {
	return b.n
}

// Released reports whether the block has been released.
func (b *Block) Released() bool {
	return b.released.Load()
}

// Release returns the block to its pool. A second call returns ErrDoubleRelease
// and has no other effect.
func (b *Block) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		b.owner.doubleFrees.Add(1)
		return ErrDoubleRelease
	}
	b.owner.releases.Add(1)
	b.owner.outstanding.Add(-1)
	b.pool.Put(b.buf)
	b.buf = nil
	return nil
}
