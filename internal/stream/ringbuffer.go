package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"

	"github.com/tphakala/btsink/internal/bufferpool"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

var (
	// ErrEmpty is returned by Receive when no data arrived within the timeout.
	ErrEmpty = errors.NewStd("ring buffer empty")
	// ErrClosed is returned by Receive after Close.
	ErrClosed = errors.NewStd("ring buffer closed")
)

// ModeObserver is called on every mode transition. It runs with the buffer
// lock held and must not call back into the RingBuffer.
type ModeObserver func(from, to Mode)

// Stats holds ring buffer counters.
type Stats struct {
	Mode          Mode
	Fill          int    // queued plus in-flight bytes
	InFlight      int    // bytes received but not yet released
	BytesWritten  uint64 // bytes accepted from producers
	BytesDropped  uint64 // bytes discarded by the flow controller
	WritesDropped uint64 // producer writes discarded
	BytesDrained  uint64 // bytes handed to the drain side
	Transitions   uint64
}

// Chunk is data pulled from the ring buffer. It counts towards the fill
// level until released.
type Chunk struct {
	data     []byte
	buf      []byte
	released atomic.Bool
}

// Bytes returns the chunk contents.
func (c *Chunk) Bytes() []byte {
	return c.data
}

// Len returns the chunk length.
func (c *Chunk) Len() int {
	return len(c.data)
}

// RingBuffer is a fixed-capacity byte FIFO with a flow controller. Write is
// safe from any goroutine. Receive and Release are meant for a single drain
// goroutine.
type RingBuffer struct {
	capacity  int
	threshold int

	// mu covers the byte store, the in-flight count and the mode so that a
	// fill check and the transition it causes are never torn.
	mu       sync.Mutex
	buf      *ringbuffer.RingBuffer
	inFlight int
	mode     Mode
	closed   bool

	dataReady chan struct{}
	wake      *WakeSignal
	chunks    *bufferpool.BufferPool

	observers []ModeObserver
	logger    logger.Logger
	overflow  *rate.Limiter

	bytesWritten  uint64
	bytesDropped  uint64
	writesDropped uint64
	bytesDrained  uint64
	transitions   uint64
}

// RingBufferOption configures a RingBuffer.
type RingBufferOption func(*RingBuffer)

// WithWakeSignal sets the signal raised when prefetching completes.
func WithWakeSignal(w *WakeSignal) RingBufferOption {
	return func(rb *RingBuffer) { rb.wake = w }
}

// WithChunkPool sets the pool chunk buffers are taken from.
func WithChunkPool(p *bufferpool.BufferPool) RingBufferOption {
	return func(rb *RingBuffer) { rb.chunks = p }
}

// WithRingLogger sets the logger used for overflow warnings.
func WithRingLogger(l logger.Logger) RingBufferOption {
	return func(rb *RingBuffer) { rb.logger = l }
}

// NewRingBuffer creates an empty buffer in ModePrefetching. threshold must
// satisfy 0 < threshold < capacity.
func NewRingBuffer(capacity, threshold int, opts ...RingBufferOption) (*RingBuffer, error) {
	if capacity <= 0 || threshold <= 0 || threshold >= capacity {
		return nil, errors.Newf("invalid ring buffer geometry: capacity=%d threshold=%d", capacity, threshold).
			Component("stream").
			Category(errors.CategoryValidation).
			Context("capacity", capacity).
			Context("threshold", threshold).
			Build()
	}

	buf := ringbuffer.New(capacity)
	if buf == nil {
		return nil, errors.Newf("failed to allocate ring buffer of %d bytes", capacity).
			Component("stream").
			Category(errors.CategoryBuffer).
			Build()
	}

	rb := &RingBuffer{
		capacity:  capacity,
		threshold: threshold,
		buf:       buf,
		mode:      ModePrefetching,
		dataReady: make(chan struct{}, 1),
		overflow:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(rb)
	}
	if rb.wake == nil {
		rb.wake = NewWakeSignal()
	}
	if rb.logger == nil {
		rb.logger = GetLogger()
	}
	return rb, nil
}

// Capacity returns the buffer capacity in bytes.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// Threshold returns the resume threshold in bytes.
func (rb *RingBuffer) Threshold() int { return rb.threshold }

// Wake returns the signal raised when prefetching completes.
func (rb *RingBuffer) Wake() *WakeSignal { return rb.wake }

// OnModeChange registers an observer for mode transitions.
func (rb *RingBuffer) OnModeChange(fn ModeObserver) {
	rb.mu.Lock()
	rb.observers = append(rb.observers, fn)
	rb.mu.Unlock()
}

// Mode returns the current flow controller mode.
func (rb *RingBuffer) Mode() Mode {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.mode
}

// Fill returns queued plus in-flight bytes.
func (rb *RingBuffer) Fill() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.fillLocked()
}

func (rb *RingBuffer) fillLocked() int {
	return rb.buf.Length() + rb.inFlight
}

// setModeLocked must be called with mu held.
func (rb *RingBuffer) setModeLocked(to Mode) {
	from := rb.mode
	if from == to {
		return
	}
	rb.mode = to
	rb.transitions++
	for _, fn := range rb.observers {
		fn(from, to)
	}
}

// Write enqueues all of p or none of it and returns the number of bytes
// accepted. In ModeDropping every write is discarded; a write that does not
// fit switches to ModeDropping. Every switch to ModeProcessing made here raises
// the wake signal.
func (rb *RingBuffer) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	var raise, overflowed bool
	var fill int

	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return 0
	}

	fill = rb.fillLocked()
	switch rb.mode {
	case ModeDropping:
		if fill <= rb.threshold {
			rb.setModeLocked(ModeProcessing)
			raise = true
		}
		rb.discardLocked(len(p))
		rb.mu.Unlock()
		// the drain worker may be idle after a prefetch overflow
		if raise {
			rb.wake.Raise()
		}
		return 0

	default:
		if rb.capacity-fill < len(p) {
			rb.setModeLocked(ModeDropping)
			rb.discardLocked(len(p))
			overflowed = true
			break
		}
		if _, err := rb.buf.Write(p); err != nil {
			// free space was checked under the same lock
			rb.discardLocked(len(p))
			rb.mu.Unlock()
			rb.logger.Error("ring buffer write failed", logger.Error(err), logger.Int("len", len(p)))
			return 0
		}
		rb.bytesWritten += uint64(len(p))
		fill += len(p)
		if rb.mode == ModePrefetching && fill >= rb.threshold {
			rb.setModeLocked(ModeProcessing)
			raise = true
		}
	}
	rb.mu.Unlock()

	if overflowed {
		if rb.overflow.Allow() {
			rb.logger.Warn("ring buffer overflow, discarding writes until backlog drains",
				logger.Int("fill", fill),
				logger.Int("capacity", rb.capacity),
				logger.Int("write_len", len(p)))
		}
		return 0
	}

	select {
	case rb.dataReady <- struct{}{}:
	default:
	}
	if raise {
		rb.wake.Raise()
	}
	return len(p)
}

func (rb *RingBuffer) discardLocked(n int) {
	rb.bytesDropped += uint64(n)
	rb.writesDropped++
}

// Receive pulls up to max bytes. It waits up to timeout for data to arrive;
// if none does, the mode is set to ModePrefetching and ErrEmpty is returned.
// The returned chunk must be passed to Release.
func (rb *RingBuffer) Receive(ctx context.Context, max int, timeout time.Duration) (*Chunk, error) {
	if max <= 0 {
		return nil, errors.Newf("invalid receive size: %d", max).
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		rb.mu.Lock()
		if rb.closed {
			rb.mu.Unlock()
			return nil, ErrClosed
		}
		if avail := rb.buf.Length(); avail > 0 {
			chunk := rb.takeLocked(min(avail, max))
			rb.mu.Unlock()
			return chunk, nil
		}
		rb.mu.Unlock()

		select {
		case <-rb.dataReady:
		case <-timer.C:
			rb.mu.Lock()
			if rb.buf.Length() > 0 {
				chunk := rb.takeLocked(min(rb.buf.Length(), max))
				rb.mu.Unlock()
				return chunk, nil
			}
			if !rb.closed {
				rb.setModeLocked(ModePrefetching)
			}
			rb.mu.Unlock()
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// takeLocked moves n queued bytes into a chunk. Must be called with mu held.
func (rb *RingBuffer) takeLocked(n int) *Chunk {
	var buf []byte
	if rb.chunks != nil && n <= rb.chunks.Size() {
		buf = rb.chunks.Get()
	} else {
		buf = make([]byte, n)
	}
	got, _ := rb.buf.Read(buf[:n])
	rb.inFlight += got
	rb.bytesDrained += uint64(got)
	return &Chunk{data: buf[:got], buf: buf}
}

// Release returns a chunk's bytes to free space. Leaving ModeDropping happens
// here once the fill level is back at or below the threshold. Releasing a
// chunk twice has no effect.
func (rb *RingBuffer) Release(c *Chunk) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}

	rb.mu.Lock()
	rb.inFlight -= len(c.data)
	if rb.inFlight < 0 {
		rb.inFlight = 0
	}
	if rb.mode == ModeDropping && rb.fillLocked() <= rb.threshold {
		rb.setModeLocked(ModeProcessing)
	}
	rb.mu.Unlock()

	if rb.chunks != nil && len(c.buf) == rb.chunks.Size() {
		rb.chunks.Put(c.buf)
	}
	c.data, c.buf = nil, nil
}

// Close fences producers: subsequent writes return 0 and Receive returns
// ErrClosed. Chunks already received may still be released.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	rb.closed = true
	rb.mu.Unlock()
	// unblock a Receive waiting for data
	select {
	case rb.dataReady <- struct{}{}:
	default:
	}
}

// Reset discards all queued data and returns to ModePrefetching. The buffer
// stays closed if it was.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	rb.buf.Reset()
	rb.inFlight = 0
	rb.setModeLocked(ModePrefetching)
	rb.mu.Unlock()
	rb.wake.Clear()
}

// Stats returns a snapshot of the buffer counters.
func (rb *RingBuffer) Stats() Stats {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return Stats{
		Mode:          rb.mode,
		Fill:          rb.fillLocked(),
		InFlight:      rb.inFlight,
		BytesWritten:  rb.bytesWritten,
		BytesDropped:  rb.bytesDropped,
		WritesDropped: rb.writesDropped,
		BytesDrained:  rb.bytesDrained,
		Transitions:   rb.transitions,
	}
}
