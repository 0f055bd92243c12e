package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains Prometheus metrics for the ring buffer, drain worker
// and audio sink.
type StreamMetrics struct {
	bytesWritten     prometheus.Counter
	bytesDropped     prometheus.Counter
	writesDropped    prometheus.Counter
	bytesDrained     prometheus.Counter
	chunksDrained    prometheus.Counter
	modeTransitions  *prometheus.CounterVec
	mode             *prometheus.GaugeVec
	fill             prometheus.Gauge
	wakeSignals      prometheus.Counter
	sinkWriteLatency prometheus.Histogram
	sinkErrors       prometheus.Counter
	sessions         prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics.
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_bytes_written_total",
		Help: "Bytes accepted into the ring buffer",
	})
	m.bytesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_bytes_dropped_total",
		Help: "Bytes discarded by the flow controller",
	})
	m.writesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_writes_dropped_total",
		Help: "Producer writes discarded by the flow controller",
	})
	m.bytesDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_bytes_drained_total",
		Help: "Bytes delivered to the audio sink",
	})
	m.chunksDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_chunks_drained_total",
		Help: "Chunks delivered to the audio sink",
	})
	m.modeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "btsink_stream_mode_transitions_total",
		Help: "Flow controller mode transitions",
	}, []string{"from", "to"})
	m.mode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btsink_stream_mode",
		Help: "Current flow controller mode (1 for the active mode)",
	}, []string{"mode"})
	m.fill = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "btsink_stream_fill_bytes",
		Help: "Ring buffer fill level including in-flight chunks",
	})
	m.wakeSignals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_wake_signals_total",
		Help: "Wake signals raised for the drain worker",
	})
	m.sinkWriteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "btsink_sink_write_duration_seconds",
		Help:    "Blocking sink write duration per chunk",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~250ms
	})
	m.sinkErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_sink_errors_total",
		Help: "Sink write errors",
	})
	m.sessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btsink_stream_sessions_total",
		Help: "Streams started",
	})
}

// RecordWrite records the outcome of one producer write.
func (m *StreamMetrics) RecordWrite(accepted bool, n int) {
	if accepted {
		m.bytesWritten.Add(float64(n))
		return
	}
	m.writesDropped.Inc()
	m.bytesDropped.Add(float64(n))
}

// RecordModeChange records a mode transition and updates the mode gauge.
func (m *StreamMetrics) RecordModeChange(from, to string) {
	m.modeTransitions.WithLabelValues(from, to).Inc()
	m.mode.WithLabelValues(from).Set(0)
	m.mode.WithLabelValues(to).Set(1)
}

// SetFill updates the fill gauge.
func (m *StreamMetrics) SetFill(n int) {
	m.fill.Set(float64(n))
}

// RecordWake counts a raised wake signal.
func (m *StreamMetrics) RecordWake() {
	m.wakeSignals.Inc()
}

// RecordDrain records one chunk written to the sink.
func (m *StreamMetrics) RecordDrain(n int, d time.Duration, err error) {
	m.sinkWriteLatency.Observe(d.Seconds())
	if err != nil {
		m.sinkErrors.Inc()
		return
	}
	m.chunksDrained.Inc()
	m.bytesDrained.Add(float64(n))
}

// RecordSession counts a started stream.
func (m *StreamMetrics) RecordSession() {
	m.sessions.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *StreamMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.bytesWritten, m.bytesDropped, m.writesDropped, m.bytesDrained,
		m.chunksDrained, m.modeTransitions, m.mode, m.fill, m.wakeSignals,
		m.sinkWriteLatency, m.sinkErrors, m.sessions,
	}
}
