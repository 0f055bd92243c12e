package stream

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink/internal/errors"
)

// recordingSink collects everything written to it.
type recordingSink struct {
	mu   sync.Mutex
	data []byte
	gate chan struct{} // when non-nil each write waits for a token
}

func (s *recordingSink) Write(ctx context.Context, p []byte) (int, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	s.data = append(s.data, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *recordingSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.data)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

type failingSink struct {
	calls int
	mu    sync.Mutex
}

func (s *failingSink) Write(context.Context, []byte) (int, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return 0, errors.NewStd("device unplugged")
}

func newTestStream(t *testing.T, sink Sink, mutate ...func(*Config)) *Stream {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, sink, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"threshold equals capacity", func(c *Config) { c.PrefetchThreshold = c.Capacity }, false},
		{"zero threshold", func(c *Config) { c.PrefetchThreshold = 0 }, false},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, false},
		{"chunk larger than capacity", func(c *Config) { c.ChunkSize = c.Capacity + 1 }, false},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestWriteBeforeStartAndAfterStop(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStream(t, sink)

	assert.Equal(t, 0, s.Write([]byte("early")))
	assert.False(t, s.Running())

	require.NoError(t, s.Start(t.Context()))
	assert.True(t, s.Running())
	assert.Equal(t, 4, s.Write([]byte("live")))

	s.Stop()
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.Write([]byte("late")))

	// stopping twice is harmless
	s.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	s := newTestStream(t, &recordingSink{})
	require.NoError(t, s.Start(t.Context()))
	err := s.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestRoundTripWithoutDropping(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStream(t, sink, func(c *Config) { c.ReadTimeout = 500 * time.Millisecond })
	require.NoError(t, s.Start(t.Context()))

	want := make([]byte, 200*1024)
	for i := range want {
		want[i] = byte(i * 7)
	}

	for off := 0; off < len(want); {
		n := min(512+off%397, len(want)-off)
		// stay clear of overflow so no write is discarded
		for s.Status().Stats.Fill > s.cfg.Capacity-n {
			time.Sleep(100 * time.Microsecond)
		}
		require.Equal(t, n, s.Write(want[off:off+n]))
		off += n
	}

	waitUntil(t, 5*time.Second, func() bool { return sink.len() == len(want) })
	assert.Equal(t, want, sink.bytes())

	stats := s.Status().Stats
	assert.Zero(t, stats.BytesDropped)
	assert.Equal(t, uint64(len(want)), stats.BytesWritten)
	assert.Equal(t, uint64(len(want)), stats.BytesDrained)
}

func TestPrefetchHoldsDataUntilThreshold(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStream(t, sink)
	require.NoError(t, s.Start(t.Context()))

	require.Equal(t, 1000, s.Write(make([]byte, 1000)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.len(), "drain worker must wait for the prefetch threshold")

	require.Equal(t, 20000, s.Write(make([]byte, 20000)))
	waitUntil(t, 2*time.Second, func() bool { return sink.len() == 21000 })
	waitUntil(t, time.Second, func() bool { return s.Status().Stats.Mode == ModePrefetching })
}

func TestPrefetchOverflowResumesDraining(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStream(t, sink)
	require.NoError(t, s.Start(t.Context()))

	require.Equal(t, 20000, s.Write(make([]byte, 20000)))
	require.Equal(t, ModePrefetching, s.Status().Stats.Mode)

	// does not fit while prefetching, drain worker is still idle
	require.Zero(t, s.Write(make([]byte, 13000)))
	require.Equal(t, ModeDropping, s.Status().Stats.Mode)

	// fill is at or below the threshold, so this write leaves dropping
	assert.Zero(t, s.Write([]byte{1}))
	waitUntil(t, 2*time.Second, func() bool { return sink.len() == 20000 })

	require.Equal(t, 512, s.Write(make([]byte, 512)))
	waitUntil(t, 2*time.Second, func() bool { return sink.len() == 20512 })
}

func TestSlowSinkDropsThenRecovers(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	s := newTestStream(t, sink)
	require.NoError(t, s.Start(t.Context()))

	packet := make([]byte, 1024)
	accepted := 0
	for range 64 {
		accepted += s.Write(packet)
	}
	assert.Equal(t, ModeDropping, s.Status().Stats.Mode)
	assert.LessOrEqual(t, accepted, s.cfg.Capacity)
	assert.Positive(t, s.Status().Stats.BytesDropped)

	// let the sink catch up
	go func() {
		for {
			select {
			case sink.gate <- struct{}{}:
			case <-t.Context().Done():
				return
			}
			if sink.len() >= accepted {
				return
			}
		}
	}()

	waitUntil(t, 5*time.Second, func() bool { return s.Status().Stats.Mode != ModeDropping })
	assert.Equal(t, 1024, s.Write(packet))
}

func TestStopInterruptsBlockedSink(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	s := newTestStream(t, sink)
	require.NoError(t, s.Start(t.Context()))

	require.Equal(t, 25000, s.Write(make([]byte, 25000)))
	waitUntil(t, time.Second, func() bool { return s.Status().Stats.InFlight > 0 })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on sink write")
	}

	st := s.Status()
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, uint64(25000), st.Stats.BytesWritten)
}

func TestRestartCreatesNewSession(t *testing.T) {
	s := newTestStream(t, &recordingSink{})

	require.NoError(t, s.Start(t.Context()))
	first := s.Status().SessionID
	s.Stop()

	require.NoError(t, s.Start(t.Context()))
	second := s.Status()
	assert.NotEqual(t, first, second.SessionID)
	assert.Equal(t, 0, second.Stats.Fill)
	assert.Equal(t, ModePrefetching, second.Stats.Mode)
}

func TestSinkErrorsDoNotStopDraining(t *testing.T) {
	sink := &failingSink{}
	s := newTestStream(t, sink)
	require.NoError(t, s.Start(t.Context()))

	require.Equal(t, 21000, s.Write(make([]byte, 21000)))
	waitUntil(t, 2*time.Second, func() bool { return s.Status().Stats.Fill == 0 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.GreaterOrEqual(t, sink.calls, 21000/1440)
}

type fakeStreamMetrics struct {
	mu          sync.Mutex
	accepted    int
	dropped     int
	transitions []string
	wakes       int
	drained     int
	sessions    int
}

func (f *fakeStreamMetrics) RecordWrite(accepted bool, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accepted {
		f.accepted += n
	} else {
		f.dropped += n
	}
}

func (f *fakeStreamMetrics) RecordModeChange(from, to string) {
	f.mu.Lock()
	f.transitions = append(f.transitions, from+"->"+to)
	f.mu.Unlock()
}
func (f *fakeStreamMetrics) SetFill(int) {}
func (f *fakeStreamMetrics) RecordWake() { f.mu.Lock(); f.wakes++; f.mu.Unlock() }
func (f *fakeStreamMetrics) RecordDrain(n int, _ time.Duration, _ error) {
	f.mu.Lock()
	f.drained += n
	f.mu.Unlock()
}
func (f *fakeStreamMetrics) RecordSession() { f.mu.Lock(); f.sessions++; f.mu.Unlock() }

func TestStreamMetrics(t *testing.T) {
	m := &fakeStreamMetrics{}
	s, err := New(DefaultConfig(), &recordingSink{}, WithLogger(quietLogger()), WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	require.NoError(t, s.Start(t.Context()))
	require.Equal(t, 21000, s.Write(make([]byte, 21000)))
	waitUntil(t, 2*time.Second, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.drained == 21000
	})
	s.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 21000, m.accepted)
	assert.Equal(t, 1, m.sessions)
	assert.Equal(t, 1, m.wakes)
	assert.Contains(t, m.transitions, "prefetching->processing")
}
