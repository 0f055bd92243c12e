// Package metrics provides Prometheus collectors for the btsink components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported by the dispatcher.
const (
	DropQueueFull   = "queue_full"
	DropAllocFailed = "alloc_failed"
	DropCopyFailed  = "copy_failed"
	DropNotRunning  = "not_running"
	DropShutdown    = "shutdown"
)

// DispatchMetrics contains Prometheus metrics for the work dispatcher.
type DispatchMetrics struct {
	submittedTotal  prometheus.Counter
	dispatchedTotal *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	panicsTotal     prometheus.Counter
	queueDepth      prometheus.Gauge
	handlerDuration *prometheus.HistogramVec
	outstanding     prometheus.Gauge
}

// NewDispatchMetrics creates and registers dispatcher metrics.
func NewDispatchMetrics(registry prometheus.Registerer) (*DispatchMetrics, error) {
	m := &DispatchMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.submittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_dispatch_submitted_total",
		Help: "Total number of messages accepted by the dispatcher",
	})
	m.dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "btsink_dispatch_handled_total",
		Help: "Total number of messages delivered to handlers",
	}, []string{"event"})
	m.droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "btsink_dispatch_dropped_total",
		Help: "Total number of messages dropped, by reason",
	}, []string{"reason"})
	m.panicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_dispatch_handler_panics_total",
		Help: "Total number of handler panics recovered by the dispatcher",
	})
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "btsink_dispatch_queue_depth",
		Help: "Current number of queued messages",
	})
	m.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btsink_dispatch_handler_duration_seconds",
		Help:    "Time spent in event handlers",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
	}, []string{"event"})
	m.outstanding = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "btsink_dispatch_outstanding_blocks",
		Help: "Payload blocks allocated and not yet released",
	})
}

// RecordSubmitted counts an accepted message.
func (m *DispatchMetrics) RecordSubmitted() {
	m.submittedTotal.Inc()
}

// RecordDropped counts a message lost for the given reason.
func (m *DispatchMetrics) RecordDropped(reason string) {
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordHandled records a delivered message and its handler duration.
func (m *DispatchMetrics) RecordHandled(event string, d time.Duration) {
	m.dispatchedTotal.WithLabelValues(event).Inc()
	m.handlerDuration.WithLabelValues(event).Observe(d.Seconds())
}

// RecordPanic counts a recovered handler panic.
func (m *DispatchMetrics) RecordPanic() {
	m.panicsTotal.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *DispatchMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetOutstandingBlocks updates the outstanding payload block gauge.
func (m *DispatchMetrics) SetOutstandingBlocks(n int64) {
	m.outstanding.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.submittedTotal.Describe(ch)
	m.dispatchedTotal.Describe(ch)
	m.droppedTotal.Describe(ch)
	m.panicsTotal.Describe(ch)
	m.queueDepth.Describe(ch)
	m.handlerDuration.Describe(ch)
	m.outstanding.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.submittedTotal.Collect(ch)
	m.dispatchedTotal.Collect(ch)
	m.droppedTotal.Collect(ch)
	m.panicsTotal.Collect(ch)
	m.queueDepth.Collect(ch)
	m.handlerDuration.Collect(ch)
	m.outstanding.Collect(ch)
}
