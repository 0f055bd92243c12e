package stream

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink/internal/bufferpool"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

const (
	testCapacity  = 32768
	testThreshold = 20480
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newTestRing(t *testing.T) *RingBuffer {
	t.Helper()
	rb, err := NewRingBuffer(testCapacity, testThreshold, WithRingLogger(quietLogger()))
	require.NoError(t, err)
	return rb
}

// drainBytes receives and releases up to n bytes in one chunk.
func drainBytes(t *testing.T, rb *RingBuffer, n int) []byte {
	t.Helper()
	chunk, err := rb.Receive(t.Context(), n, 10*time.Millisecond)
	require.NoError(t, err)
	out := bytes.Clone(chunk.Bytes())
	rb.Release(chunk)
	return out
}

// toProcessingFull brings a fresh buffer to ModeProcessing with fill == C.
func toProcessingFull(t *testing.T, rb *RingBuffer) {
	t.Helper()
	require.Equal(t, testThreshold+1, rb.Write(make([]byte, testThreshold+1)))
	require.Equal(t, ModeProcessing, rb.Mode())
	rest := testCapacity - rb.Fill()
	require.Equal(t, rest, rb.Write(make([]byte, rest)))
	require.Equal(t, testCapacity, rb.Fill())
}

func TestNewRingBufferValidation(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		threshold int
	}{
		{"zero capacity", 0, 1},
		{"zero threshold", 1024, 0},
		{"threshold equals capacity", 1024, 1024},
		{"threshold above capacity", 1024, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRingBuffer(tt.capacity, tt.threshold)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestRingBufferStartsPrefetching(t *testing.T) {
	rb := newTestRing(t)
	assert.Equal(t, ModePrefetching, rb.Mode())
	assert.Equal(t, 0, rb.Fill())
	assert.Equal(t, testCapacity, rb.Capacity())
	assert.Equal(t, testThreshold, rb.Threshold())
	assert.False(t, rb.Wake().Pending())
}

func TestPrefetchCompletesAboveThreshold(t *testing.T) {
	rb := newTestRing(t)

	n := rb.Write(make([]byte, 20481))

	assert.Equal(t, 20481, n)
	assert.Equal(t, 20481, rb.Fill())
	assert.Equal(t, ModeProcessing, rb.Mode())
	assert.True(t, rb.Wake().Pending())
}

func TestPrefetchBelowThresholdStaysPrefetching(t *testing.T) {
	rb := newTestRing(t)

	assert.Equal(t, 20479, rb.Write(make([]byte, 20479)))
	assert.Equal(t, ModePrefetching, rb.Mode())
	assert.False(t, rb.Wake().Pending())

	assert.Equal(t, 1, rb.Write([]byte{0}))
	assert.Equal(t, ModeProcessing, rb.Mode(), "fill == threshold completes prefetch")
	assert.True(t, rb.Wake().Pending())
}

func TestOverflowWhileProcessingDiscardsAndDrops(t *testing.T) {
	rb := newTestRing(t)
	toProcessingFull(t, rb)

	n := rb.Write(make([]byte, 100))

	assert.Equal(t, 0, n)
	assert.Equal(t, testCapacity, rb.Fill())
	assert.Equal(t, ModeDropping, rb.Mode())
	stats := rb.Stats()
	assert.Equal(t, uint64(100), stats.BytesDropped)
	assert.Equal(t, uint64(1), stats.WritesDropped)
}

func TestDrainBelowThresholdResumesProcessing(t *testing.T) {
	rb := newTestRing(t)
	toProcessingFull(t, rb)
	require.Equal(t, 0, rb.Write(make([]byte, 100)))
	require.Equal(t, ModeDropping, rb.Mode())

	chunk, err := rb.Receive(t.Context(), 13000, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 13000, chunk.Len())
	// in-flight bytes still count towards fill
	assert.Equal(t, testCapacity, rb.Fill())
	assert.Equal(t, ModeDropping, rb.Mode())

	rb.Release(chunk)

	assert.Equal(t, 19768, rb.Fill())
	assert.Equal(t, ModeProcessing, rb.Mode())
}

func TestBoundaryWriteFillsExactly(t *testing.T) {
	rb := newTestRing(t)
	require.Equal(t, testThreshold, rb.Write(make([]byte, testThreshold)))
	require.Equal(t, ModeProcessing, rb.Mode())

	free := testCapacity - rb.Fill()
	assert.Equal(t, free, rb.Write(make([]byte, free)))
	assert.Equal(t, testCapacity, rb.Fill())
	assert.Equal(t, ModeProcessing, rb.Mode())

	assert.Equal(t, 0, rb.Write([]byte{1}))
	assert.Equal(t, testCapacity, rb.Fill())
	assert.Equal(t, ModeDropping, rb.Mode())
}

func TestDroppingDiscardsUntilDrained(t *testing.T) {
	rb := newTestRing(t)
	toProcessingFull(t, rb)
	require.Equal(t, 0, rb.Write([]byte{1}))

	for _, size := range []int{1, 10, 512, 4096, testCapacity} {
		assert.Equal(t, 0, rb.Write(make([]byte, size)), "size %d", size)
		assert.Equal(t, ModeDropping, rb.Mode())
		assert.Equal(t, testCapacity, rb.Fill())
	}

	// draining to just above the threshold keeps dropping
	drainBytes(t, rb, testCapacity-testThreshold-1)
	assert.Equal(t, ModeDropping, rb.Mode())
	assert.Equal(t, 0, rb.Write([]byte{1}))

	drainBytes(t, rb, 1)
	assert.Equal(t, testThreshold, rb.Fill())
	assert.Equal(t, ModeProcessing, rb.Mode())
	assert.Equal(t, 1, rb.Write([]byte{1}))
}

func TestPrefetchingWriteThatDoesNotFitDrops(t *testing.T) {
	rb, err := NewRingBuffer(1024, 1000, WithRingLogger(quietLogger()))
	require.NoError(t, err)

	require.Equal(t, 999, rb.Write(make([]byte, 999)))
	require.Equal(t, ModePrefetching, rb.Mode())

	assert.Equal(t, 0, rb.Write(make([]byte, 100)))
	assert.Equal(t, ModeDropping, rb.Mode())
	assert.Equal(t, 999, rb.Fill())

	// leaving dropping wakes the idle drain side
	assert.Equal(t, 0, rb.Write([]byte{1}))
	assert.Equal(t, ModeProcessing, rb.Mode())
	assert.True(t, rb.wake.Pending())
}

func TestEmptyReceiveSwitchesToPrefetching(t *testing.T) {
	rb := newTestRing(t)
	require.Equal(t, testThreshold, rb.Write(make([]byte, testThreshold)))
	require.Equal(t, ModeProcessing, rb.Mode())

	for rb.Fill() > 0 {
		drainBytes(t, rb, 1440)
	}
	assert.Equal(t, ModeProcessing, rb.Mode())

	start := time.Now()
	chunk, err := rb.Receive(t.Context(), 1440, 15*time.Millisecond)
	assert.Nil(t, chunk)
	require.ErrorIs(t, err, ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, ModePrefetching, rb.Mode())
}

func TestReceiveWakesOnWrite(t *testing.T) {
	rb := newTestRing(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		rb.Write([]byte("late data"))
	}()

	chunk, err := rb.Receive(t.Context(), 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late data", string(chunk.Bytes()))
	rb.Release(chunk)
}

func TestReceiveAfterClose(t *testing.T) {
	rb := newTestRing(t)
	require.Equal(t, 4, rb.Write([]byte("data")))

	rb.Close()

	assert.Equal(t, 0, rb.Write([]byte("more")), "closed buffer fences producers")
	_, err := rb.Receive(t.Context(), 64, time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseUnblocksReceive(t *testing.T) {
	rb := newTestRing(t)

	errc := make(chan error, 1)
	go func() {
		_, err := rb.Receive(t.Context(), 64, 10*time.Second)
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)
	rb.Close()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive not unblocked by Close")
	}
}

func TestReleaseTwiceIsNoop(t *testing.T) {
	rb := newTestRing(t)
	require.Equal(t, 100, rb.Write(make([]byte, 100)))

	chunk, err := rb.Receive(t.Context(), 60, time.Millisecond)
	require.NoError(t, err)
	rb.Release(chunk)
	rb.Release(chunk)

	assert.Equal(t, 40, rb.Fill())
	assert.Equal(t, 0, rb.Stats().InFlight)
}

func TestChunkPoolReuse(t *testing.T) {
	pool, err := bufferpool.NewBufferPool(1440)
	require.NoError(t, err)
	rb, err := NewRingBuffer(testCapacity, testThreshold, WithChunkPool(pool), WithRingLogger(quietLogger()))
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 5000)
	require.Equal(t, len(payload), rb.Write(payload))

	var got []byte
	for rb.Fill() > 0 {
		got = append(got, drainBytes(t, rb, 1440)...)
	}
	assert.Equal(t, payload, got)
	assert.Equal(t, 0, rb.Stats().InFlight)
}

func TestModeObserver(t *testing.T) {
	rb := newTestRing(t)

	type transition struct{ from, to Mode }
	var seen []transition
	rb.OnModeChange(func(from, to Mode) { seen = append(seen, transition{from, to}) })

	toProcessingFull(t, rb)
	rb.Write([]byte{1})
	drainBytes(t, rb, 13000)

	assert.Equal(t, []transition{
		{ModePrefetching, ModeProcessing},
		{ModeProcessing, ModeDropping},
		{ModeDropping, ModeProcessing},
	}, seen)
	assert.Equal(t, uint64(3), rb.Stats().Transitions)
}

func TestResetReturnsToPrefetching(t *testing.T) {
	rb := newTestRing(t)
	toProcessingFull(t, rb)
	rb.Write([]byte{1})

	rb.Reset()

	assert.Equal(t, 0, rb.Fill())
	assert.Equal(t, ModePrefetching, rb.Mode())
	assert.False(t, rb.Wake().Pending())
}

// flowModel applies the flow controller transition table to plain integers.
type flowModel struct {
	capacity, threshold int
	fill                int
	mode                Mode
}

func (m *flowModel) write(n int) int {
	if m.mode == ModeDropping {
		if m.fill <= m.threshold {
			m.mode = ModeProcessing
		}
		return 0
	}
	if m.capacity-m.fill < n {
		m.mode = ModeDropping
		return 0
	}
	m.fill += n
	if m.mode == ModePrefetching && m.fill >= m.threshold {
		m.mode = ModeProcessing
	}
	return n
}

func (m *flowModel) drain(n int) {
	if m.fill == 0 {
		m.mode = ModePrefetching
		return
	}
	m.fill -= min(m.fill, n)
	if m.mode == ModeDropping && m.fill <= m.threshold {
		m.mode = ModeProcessing
	}
}

func TestModeFollowsTransitionTable(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	rb := newTestRing(t)
	model := &flowModel{capacity: testCapacity, threshold: testThreshold, mode: ModePrefetching}

	for i := range 5000 {
		if rng.IntN(3) > 0 {
			n := 1 + rng.IntN(4096)
			want := model.write(n)
			got := rb.Write(make([]byte, n))
			require.Equal(t, want, got, "step %d write %d", i, n)
		} else {
			n := 1 + rng.IntN(8192)
			model.drain(n)
			chunk, err := rb.Receive(t.Context(), n, time.Millisecond)
			if err == nil {
				rb.Release(chunk)
			} else {
				require.ErrorIs(t, err, ErrEmpty)
			}
		}
		require.Equal(t, model.mode, rb.Mode(), "step %d", i)
		require.Equal(t, model.fill, rb.Fill(), "step %d", i)
	}
}

func TestWriteEmptyIsNoop(t *testing.T) {
	rb := newTestRing(t)
	assert.Equal(t, 0, rb.Write(nil))
	assert.Equal(t, uint64(0), rb.Stats().WritesDropped)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "prefetching", ModePrefetching.String())
	assert.Equal(t, "processing", ModeProcessing.String())
	assert.Equal(t, "dropping", ModeDropping.String())
	assert.Equal(t, "unknown", Mode(9).String())
}
