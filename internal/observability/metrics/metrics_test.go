package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDispatchMetrics(registry)
	require.NoError(t, err)

	m.RecordSubmitted()
	m.RecordSubmitted()
	m.RecordDropped(DropQueueFull)
	m.RecordHandled("connection", 2*time.Millisecond)
	m.RecordPanic()
	m.SetQueueDepth(3)
	m.SetOutstandingBlocks(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.submittedTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.droppedTotal.WithLabelValues(DropQueueFull)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchedTotal.WithLabelValues("connection")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.panicsTotal), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.queueDepth), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.outstanding), 0)

	_, err = NewDispatchMetrics(registry)
	assert.Error(t, err, "duplicate registration must fail")
}

func TestStreamMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewStreamMetrics(registry)
	require.NoError(t, err)

	m.RecordWrite(true, 512)
	m.RecordWrite(false, 256)
	m.RecordModeChange("prefetching", "processing")
	m.RecordModeChange("processing", "dropping")
	m.SetFill(20480)
	m.RecordWake()
	m.RecordDrain(1440, time.Millisecond, nil)
	m.RecordDrain(1440, time.Millisecond, errors.New("device gone"))
	m.RecordSession()

	assert.InDelta(t, 512, testutil.ToFloat64(m.bytesWritten), 0)
	assert.InDelta(t, 256, testutil.ToFloat64(m.bytesDropped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.writesDropped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.modeTransitions.WithLabelValues("processing", "dropping")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.mode.WithLabelValues("processing")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.mode.WithLabelValues("dropping")), 0)
	assert.InDelta(t, 20480, testutil.ToFloat64(m.fill), 0)
	assert.InDelta(t, 1440, testutil.ToFloat64(m.bytesDrained), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.chunksDrained), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sinkErrors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessions), 0)
}

func TestMQTTMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.RecordPublish(time.Millisecond, nil)
	m.RecordPublish(time.Millisecond, errors.New("timeout"))
	m.RecordDropped()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDropped), 0)

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
}
