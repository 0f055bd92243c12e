package sink

import (
	"context"
	"sync/atomic"
	"time"
)

// DiscardSink drops audio. When paced it sleeps for the playback time of each
// write, emulating a real device's consumption rate.
type DiscardSink struct {
	cfg  Config
	opts options

	open    atomic.Bool
	written atomic.Int64
}

// NewDiscardSink creates a discarding sink.
func NewDiscardSink(cfg Config, opts ...Option) *DiscardSink {
	return &DiscardSink{cfg: cfg, opts: buildOptions(opts)}
}

// Open marks the sink open.
func (s *DiscardSink) Open() error {
	s.open.Store(true)
	return nil
}

// Write counts p and, if paced, waits for its playback duration.
func (s *DiscardSink) Write(ctx context.Context, p []byte) (int, error) {
	s.written.Add(int64(len(p)))
	if !s.cfg.Paced {
		return len(p), nil
	}

	d := s.cfg.Duration(len(p))
	if d <= 0 {
		return len(p), nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return len(p), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close marks the sink closed.
func (s *DiscardSink) Close() error {
	s.open.Store(false)
	return nil
}

// Written returns the number of bytes accepted.
func (s *DiscardSink) Written() int64 {
	return s.written.Load()
}

// IsOpen reports whether Open was called without a following Close.
func (s *DiscardSink) IsOpen() bool {
	return s.open.Load()
}
