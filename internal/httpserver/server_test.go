package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/receiver"
	"github.com/tphakala/btsink/internal/stream"
)

var testLogger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

type fakeReceiver struct {
	mu     sync.Mutex
	status receiver.Status
	sets   []uint8
}

func (f *fakeReceiver) Status() receiver.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeReceiver) SetLocalVolume(v uint8) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, v)
	f.status.Volume = v
	return v
}

func newTestServer(t *testing.T, r Receiver) *Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "btsink_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()
	return New("127.0.0.1:0", r,
		WithLogger(testLogger),
		WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &fakeReceiver{status: receiver.Status{
		Device:     "btsink",
		Connection: receiver.Connected,
		Peer:       "phone",
		Audio:      receiver.AudioStarted,
		Volume:     90,
		Packets:    12,
		SampleRate: 44100,
		Channels:   2,
		Title:      "Song",
		Stream: stream.Status{
			Running:   true,
			SessionID: "abc",
			Since:     since,
			Stats:     stream.Stats{Mode: stream.ModeProcessing, Fill: 2048, BytesWritten: 4096},
		},
	}}
	s := newTestServer(t, r)

	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "btsink", resp.Device)
	assert.Equal(t, receiver.Connected.String(), resp.Connection)
	assert.Equal(t, receiver.AudioStarted.String(), resp.Audio)
	assert.Equal(t, uint8(90), resp.Volume)
	assert.Equal(t, "Song", resp.Title)
	assert.True(t, resp.Stream.Running)
	assert.Equal(t, "processing", resp.Stream.Mode)
	assert.Equal(t, 2048, resp.Stream.Fill)
	require.NotNil(t, resp.Stream.Since)
	assert.True(t, since.Equal(*resp.Stream.Since))
}

func TestGetStatusIdle(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeReceiver{})
	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	streamBody, ok := body["stream"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, streamBody, "since")
	assert.Equal(t, "prefetching", streamBody["mode"])
}

func TestPutVolume(t *testing.T) {
	t.Parallel()

	r := &fakeReceiver{}
	s := newTestServer(t, r)

	rec := do(t, s, http.MethodPut, "/api/v1/volume", `{"volume": 100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp VolumeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint8(100), resp.Volume)
	assert.Equal(t, []uint8{100}, r.sets)
}

func TestPutVolumeRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"too high", `{"volume": 128}`},
		{"negative", `{"volume": -1}`},
		{"missing", `{}`},
		{"malformed", `{"volume":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &fakeReceiver{}
			s := newTestServer(t, r)
			rec := do(t, s, http.MethodPut, "/api/v1/volume", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, r.sets)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeReceiver{})
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "btsink_test_total 1")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeReceiver{})
	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeReceiver{})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://"+s.Addr()+"/health", http.NoBody)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunListenError(t *testing.T) {
	t.Parallel()

	s := New("256.0.0.1:bad", &fakeReceiver{}, WithLogger(testLogger))
	require.Error(t, s.Run(t.Context()))
}
