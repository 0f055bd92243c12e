package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/btsink/internal/bufferpool"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/observability/metrics"
)

// Config holds dispatcher configuration
type Config struct {
	QueueSize       int           // bounded FIFO depth
	SubmitTimeout   time.Duration // max wait for queue space
	ShutdownTimeout time.Duration // max time spent delivering queued messages on shutdown
	MaxPayload      int           // largest payload block Submit allocates
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:       10,
		SubmitTimeout:   10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		MaxPayload:      64 * 1024,
	}
}

// MetricsRecorder receives dispatcher events. *metrics.DispatchMetrics
// implements it.
type MetricsRecorder interface {
	RecordSubmitted()
	RecordDropped(reason string)
	RecordHandled(event string, d time.Duration)
	RecordPanic()
	SetQueueDepth(n int)
	SetOutstandingBlocks(n int64)
}

// Stats holds dispatcher counters
type Stats struct {
	Submitted  uint64 // messages accepted onto the queue
	Dispatched uint64 // messages delivered to a handler
	Dropped    uint64 // Submit calls that returned false
	Discarded  uint64 // queued messages discarded at shutdown
	Panics     uint64 // recovered handler panics
	Unknown    uint64 // messages with an unknown signal
	QueueLen   int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAllocator replaces the payload block allocator.
func WithAllocator(a *bufferpool.Allocator) Option {
	return func(d *Dispatcher) { d.alloc = a }
}

// Dispatcher serializes handler invocations onto one worker goroutine.
type Dispatcher struct {
	cfg   Config
	queue chan Message
	alloc *bufferpool.Allocator

	// admission guards the running flag. Submit holds the read lock across
	// its bounded send so shutdown can fence producers before draining.
	admission sync.RWMutex
	running   bool
	started   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}

	logger  logger.Logger
	metrics MetricsRecorder
	drops   *dropLogger

	submitted  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	discarded  atomic.Uint64
	panics     atomic.Uint64
	unknown    atomic.Uint64
}

// GetLogger returns the dispatch module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("dispatch")
}

// New creates a dispatcher. Call Start before submitting work.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if cfg.QueueSize <= 0 || cfg.SubmitTimeout <= 0 || cfg.MaxPayload <= 0 {
		return nil, errors.Newf("invalid dispatcher config: queue=%d submit_timeout=%s max_payload=%d",
			cfg.QueueSize, cfg.SubmitTimeout, cfg.MaxPayload).
			Component("dispatch").
			Category(errors.CategoryValidation).
			Build()
	}

	d := &Dispatcher{
		cfg:   cfg,
		queue: make(chan Message, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = GetLogger()
	}
	if d.alloc == nil {
		a, err := bufferpool.NewAllocator(cfg.MaxPayload)
		if err != nil {
			return nil, err
		}
		d.alloc = a
	}
	d.drops = newDropLogger(d.logger)
	return d, nil
}

// Start launches the worker. Cancelling ctx has the same effect as Shutdown
// with the configured shutdown timeout.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.Newf("dispatcher already started").
			Component("dispatch").
			Category(errors.CategoryState).
			Build()
	}

	ctx, d.cancel = context.WithCancel(ctx)

	d.admission.Lock()
	d.running = true
	d.admission.Unlock()

	go d.run(ctx)

	d.logger.Info("dispatcher started",
		logger.Int("queue_size", d.cfg.QueueSize),
		logger.Duration("submit_timeout", d.cfg.SubmitTimeout))
	return nil
}

// Running reports whether the dispatcher accepts new work.
func (d *Dispatcher) Running() bool {
	d.admission.RLock()
	defer d.admission.RUnlock()
	return d.running
}

// Allocator returns the payload block allocator.
func (d *Dispatcher) Allocator() *bufferpool.Allocator {
	return d.alloc
}

// Submit enqueues handler for event with an owned copy of payload. copyFn,
// if non-nil, is invoked after the byte copy to deep-copy nested data. Submit
// never blocks longer than the submit timeout and returns false if the
// message was not accepted; the event is then lost.
func (d *Dispatcher) Submit(event EventID, h Handler, payload []byte, copyFn CopyFunc) bool {
	if h == nil {
		d.drop(event, metrics.DropNotRunning, logger.String("detail", "nil handler"))
		return false
	}

	p := &Payload{}
	if len(payload) > 0 {
		block, err := d.alloc.Alloc(len(payload))
		if err != nil {
			d.drop(event, metrics.DropAllocFailed, logger.Int("size", len(payload)), logger.Error(err))
			return false
		}
		copy(block.Bytes(), payload)
		p.block = block
		p.kind = KindBytes

		if copyFn != nil {
			if err := copyFn(p, payload); err != nil {
				d.discardPayload(p)
				d.drop(event, metrics.DropCopyFailed, logger.Error(err))
				return false
			}
		}
	}

	if !d.enqueue(Message{Signal: SignalWorkDispatch, Event: event, Handler: h, Payload: p}) {
		d.discardPayload(p)
		return false
	}
	return true
}

// SubmitRecord enqueues a handler with an already owned record and no byte
// block. Ownership of record passes to the dispatcher on success only; if
// the message is later discarded at shutdown a Releaser record is released.
func (d *Dispatcher) SubmitRecord(event EventID, h Handler, record any) bool {
	if h == nil {
		d.drop(event, metrics.DropNotRunning, logger.String("detail", "nil handler"))
		return false
	}
	p := &Payload{}
	if record != nil {
		p.SetRecord(record)
	}
	return d.enqueue(Message{Signal: SignalWorkDispatch, Event: event, Handler: h, Payload: p})
}

func (d *Dispatcher) enqueue(msg Message) bool {
	d.admission.RLock()
	defer d.admission.RUnlock()

	if !d.running {
		d.drop(msg.Event, metrics.DropNotRunning)
		return false
	}

	select {
	case d.queue <- msg:
		d.accepted()
		return true
	default:
	}

	timer := time.NewTimer(d.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case d.queue <- msg:
		d.accepted()
		return true
	case <-timer.C:
		d.drop(msg.Event, metrics.DropQueueFull,
			logger.Int("queue_size", d.cfg.QueueSize),
			logger.Duration("waited", d.cfg.SubmitTimeout))
		return false
	}
}

func (d *Dispatcher) accepted() {
	d.submitted.Add(1)
	if d.metrics != nil {
		d.metrics.RecordSubmitted()
		d.metrics.SetQueueDepth(len(d.queue))
	}
}

func (d *Dispatcher) drop(event EventID, reason string, fields ...logger.Field) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDropped(reason)
	}
	d.drops.dropped(event, reason, fields...)
}

// run is the worker loop. It exits after the context is cancelled and the
// queue has been drained or discarded.
func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.stopAdmission()
			d.drain()
			d.logger.Debug("dispatcher worker stopped")
			return
		case msg := <-d.queue:
			d.process(msg)
		}
	}
}

func (d *Dispatcher) stopAdmission() {
	d.admission.Lock()
	d.running = false
	d.admission.Unlock()
}

// drain delivers queued messages until the shutdown timeout elapses, then
// discards what is left. Admission is closed, so the queue only shrinks.
func (d *Dispatcher) drain() {
	deadline := time.Now().Add(d.cfg.ShutdownTimeout)
	for {
		select {
		case msg := <-d.queue:
			if time.Now().Before(deadline) {
				d.process(msg)
				continue
			}
			d.discarded.Add(1)
			if d.metrics != nil {
				d.metrics.RecordDropped(metrics.DropShutdown)
			}
			d.discardPayload(msg.Payload)
		default:
			if n := d.discarded.Load(); n > 0 {
				d.logger.Warn("discarded queued messages at shutdown", logger.Uint64("count", n))
			}
			return
		}
	}
}

// process delivers one message and always releases its payload block.
func (d *Dispatcher) process(msg Message) {
	defer d.releasePayload(msg.Payload)

	if d.metrics != nil {
		d.metrics.SetQueueDepth(len(d.queue))
	}

	if msg.Signal != SignalWorkDispatch {
		d.unknown.Add(1)
		d.logger.Warn("unknown dispatcher signal",
			logger.Int("signal", int(msg.Signal)),
			logger.Int("event", int(msg.Event)))
		return
	}

	name := handlerName(msg.Handler)
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.panics.Add(1)
				if d.metrics != nil {
					d.metrics.RecordPanic()
				}
				d.logger.Error("event handler panicked",
					logger.String("handler", name),
					logger.Int("event", int(msg.Event)),
					logger.Any("panic", fmt.Sprint(r)))
			}
		}()
		msg.Handler.HandleEvent(msg.Event, msg.Payload)
	}()

	d.dispatched.Add(1)
	if d.metrics != nil {
		d.metrics.RecordHandled(name, time.Since(start))
	}
}

// discardPayload releases a payload that never reached its handler,
// including any nested resources held by a Releaser record.
func (d *Dispatcher) discardPayload(p *Payload) {
	if r, ok := p.Record().(Releaser); ok {
		r.Release()
	}
	d.releasePayload(p)
}

func (d *Dispatcher) releasePayload(p *Payload) {
	if err := p.release(); err != nil {
		d.logger.Error("payload block release failed", logger.Error(err))
	}
	if d.metrics != nil {
		d.metrics.SetOutstandingBlocks(d.alloc.Outstanding())
	}
}

// Shutdown stops admission, lets the worker deliver queued messages within
// the configured shutdown timeout and waits up to timeout for it to exit.
// It is safe to call more than once.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	if !d.started.Load() {
		return nil
	}

	d.logger.Info("shutting down dispatcher", logger.Duration("timeout", timeout))
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("dispatcher shutdown complete",
			logger.Uint64("dispatched", d.dispatched.Load()),
			logger.Uint64("dropped", d.dropped.Load()))
		return nil
	case <-time.After(timeout):
		d.logger.Warn("dispatcher shutdown timeout exceeded")
		return errors.Newf("dispatcher shutdown timeout exceeded after %s", timeout).
			Component("dispatch").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Stats returns current dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Discarded:  d.discarded.Load(),
		Panics:     d.panics.Load(),
		Unknown:    d.unknown.Load(),
		QueueLen:   len(d.queue),
	}
}
