package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/btsink/internal/bufferpool"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// Config holds stream configuration
type Config struct {
	Capacity          int           // ring buffer capacity in bytes
	PrefetchThreshold int           // fill level that starts or resumes processing
	ChunkSize         int           // max bytes per sink write
	ReadTimeout       time.Duration // empty-pull timeout on the drain side
}

// DefaultConfig returns the default stream configuration: 32 KiB buffer,
// 20 KiB threshold and chunks of 240 stereo S16 frames.
func DefaultConfig() Config {
	return Config{
		Capacity:          32 * 1024,
		PrefetchThreshold: 20 * 1024,
		ChunkSize:         240 * 6,
		ReadTimeout:       20 * time.Millisecond,
	}
}

// Validate checks the buffer geometry.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return errors.Newf("stream capacity must be positive, got %d", c.Capacity).
			Component("stream").Category(errors.CategoryValidation).Build()
	case c.PrefetchThreshold <= 0 || c.PrefetchThreshold >= c.Capacity:
		return errors.Newf("prefetch threshold %d must be between 0 and capacity %d exclusive",
			c.PrefetchThreshold, c.Capacity).
			Component("stream").Category(errors.CategoryValidation).Build()
	case c.ChunkSize <= 0 || c.ChunkSize > c.Capacity:
		return errors.Newf("chunk size %d must be between 1 and capacity %d", c.ChunkSize, c.Capacity).
			Component("stream").Category(errors.CategoryValidation).Build()
	case c.ReadTimeout <= 0:
		return errors.Newf("read timeout must be positive, got %s", c.ReadTimeout).
			Component("stream").Category(errors.CategoryValidation).Build()
	}
	return nil
}

// MetricsRecorder receives stream events. *metrics.StreamMetrics implements it.
type MetricsRecorder interface {
	RecordWrite(accepted bool, n int)
	RecordModeChange(from, to string)
	SetFill(n int)
	RecordWake()
	RecordDrain(n int, d time.Duration, err error)
	RecordSession()
}

// Status is a point-in-time view of a stream.
type Status struct {
	Running   bool
	SessionID string
	Since     time.Time
	Stats     Stats
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the stream logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Stream) { s.metrics = m }
}

// Stream owns the ring buffer, wake signal and drain worker for one
// connection. Start and Stop may be called repeatedly; Write is safe at any
// time and returns 0 while the stream is stopped.
type Stream struct {
	cfg     Config
	sink    Sink
	chunks  *bufferpool.BufferPool
	logger  logger.Logger
	metrics MetricsRecorder

	rb atomic.Pointer[RingBuffer]

	mu      sync.Mutex // serializes Start and Stop
	cancel  context.CancelFunc
	done    chan struct{}
	session string
	since   time.Time
	last    Stats
}

// GetLogger returns the stream module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}

// New creates a stopped stream draining into sink.
func New(cfg Config, sink Sink, opts ...Option) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.Newf("stream requires a sink").
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}

	chunks, err := bufferpool.NewBufferPool(cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	s := &Stream{cfg: cfg, sink: sink, chunks: chunks}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}
	return s, nil
}

// Start creates the ring buffer and launches the drain worker. On failure no
// state is kept and the stream stays stopped.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rb.Load() != nil {
		return errors.Newf("stream already running").
			Component("stream").
			Category(errors.CategoryState).
			Context("session", s.session).
			Build()
	}

	session := uuid.NewString()
	log := s.logger.With(logger.String("session", session))

	rb, err := NewRingBuffer(s.cfg.Capacity, s.cfg.PrefetchThreshold,
		WithWakeSignal(NewWakeSignal()),
		WithChunkPool(s.chunks),
		WithRingLogger(log))
	if err != nil {
		log.Error("stream start aborted", logger.Error(err))
		return err
	}
	if s.metrics != nil {
		m := s.metrics
		rb.OnModeChange(func(from, to Mode) {
			m.RecordModeChange(from.String(), to.String())
		})
	}

	w := &drainWorker{
		rb:          rb,
		sink:        s.sink,
		chunkSize:   s.cfg.ChunkSize,
		readTimeout: s.cfg.ReadTimeout,
		metrics:     s.metrics,
		logger:      log,
		sinkErrs:    rate.NewLimiter(rate.Every(5*time.Second), 1),
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(runCtx)
	}()

	s.cancel = cancel
	s.done = done
	s.session = session
	s.since = time.Now()
	s.rb.Store(rb)

	if s.metrics != nil {
		s.metrics.RecordSession()
	}
	log.Info("stream started",
		logger.Int("capacity", s.cfg.Capacity),
		logger.Int("threshold", s.cfg.PrefetchThreshold),
		logger.Int("chunk_size", s.cfg.ChunkSize))
	return nil
}

// Stop fences producers, stops the drain worker and discards buffered data.
// Calling Stop on a stopped stream is a no-op.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb := s.rb.Swap(nil)
	if rb == nil {
		return
	}

	rb.Close()
	s.cancel()
	<-s.done

	s.last = rb.Stats()
	rb.Reset()
	if s.metrics != nil {
		s.metrics.SetFill(0)
	}

	s.logger.Info("stream stopped",
		logger.String("session", s.session),
		logger.Duration("duration", time.Since(s.since)),
		logger.Uint64("bytes_written", s.last.BytesWritten),
		logger.Uint64("bytes_dropped", s.last.BytesDropped),
		logger.Uint64("bytes_drained", s.last.BytesDrained))
	s.cancel = nil
	s.done = nil
}

// Write offers p to the ring buffer and returns the number of bytes accepted,
// either len(p) or 0.
func (s *Stream) Write(p []byte) int {
	rb := s.rb.Load()
	if rb == nil {
		return 0
	}
	n := rb.Write(p)
	if s.metrics != nil && len(p) > 0 {
		s.metrics.RecordWrite(n > 0, len(p))
	}
	return n
}

// Running reports whether the stream has been started.
func (s *Stream) Running() bool {
	return s.rb.Load() != nil
}

// Status returns the current stream state. For a stopped stream the stats of
// the last session are reported.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rb := s.rb.Load(); rb != nil {
		return Status{Running: true, SessionID: s.session, Since: s.since, Stats: rb.Stats()}
	}
	return Status{SessionID: s.session, Since: s.since, Stats: s.last}
}
