package stream

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// Sink consumes drained audio. Write blocks until p has been accepted or ctx
// is cancelled and returns the number of bytes written.
type Sink interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// drainWorker moves data from the ring buffer to the sink. It waits on the
// wake signal, then pulls bounded chunks until a pull comes back empty.
type drainWorker struct {
	rb          *RingBuffer
	sink        Sink
	chunkSize   int
	readTimeout time.Duration
	metrics     MetricsRecorder
	logger      logger.Logger
	sinkErrs    *rate.Limiter
}

func (w *drainWorker) run(ctx context.Context) {
	for {
		if err := w.rb.Wake().Wait(ctx); err != nil {
			return
		}
		if w.metrics != nil {
			w.metrics.RecordWake()
		}
		if !w.drain(ctx) {
			return
		}
	}
}

// drain pulls chunks until the buffer runs empty. It returns false when the
// worker should exit.
func (w *drainWorker) drain(ctx context.Context) bool {
	for {
		chunk, err := w.rb.Receive(ctx, w.chunkSize, w.readTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrEmpty):
			// Receive already switched to prefetching
			return true
		default:
			return false
		}

		start := time.Now()
		n, werr := w.sink.Write(ctx, chunk.Bytes())
		elapsed := time.Since(start)
		size := chunk.Len()
		w.rb.Release(chunk)

		if w.metrics != nil {
			w.metrics.RecordDrain(n, elapsed, werr)
			w.metrics.SetFill(w.rb.Fill())
		}

		if werr != nil {
			if ctx.Err() != nil {
				return false
			}
			if w.sinkErrs.Allow() {
				w.logger.Error("sink write failed",
					logger.Error(werr),
					logger.Int("chunk", size),
					logger.Int("written", n))
			}
		}
	}
}
