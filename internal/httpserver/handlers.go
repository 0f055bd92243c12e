package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/btsink/internal/receiver"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Device       string           `json:"device"`
	Connection   string           `json:"connection"`
	Peer         string           `json:"peer,omitempty"`
	Audio        string           `json:"audio"`
	Volume       uint8            `json:"volume"`
	Capabilities uint16           `json:"capabilities"`
	Packets      uint64           `json:"packets"`
	SampleRate   int              `json:"sample_rate,omitempty"`
	Channels     int              `json:"channels,omitempty"`
	Title        string           `json:"title,omitempty"`
	Artist       string           `json:"artist,omitempty"`
	Album        string           `json:"album,omitempty"`
	Stream       StreamStatus     `json:"stream"`
	Dispatcher   DispatcherStatus `json:"dispatcher"`
}

// StreamStatus describes the audio stream.
type StreamStatus struct {
	Running       bool       `json:"running"`
	SessionID     string     `json:"session_id,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Mode          string     `json:"mode"`
	Fill          int        `json:"fill"`
	InFlight      int        `json:"in_flight"`
	BytesWritten  uint64     `json:"bytes_written"`
	BytesDropped  uint64     `json:"bytes_dropped"`
	WritesDropped uint64     `json:"writes_dropped"`
	BytesDrained  uint64     `json:"bytes_drained"`
	Transitions   uint64     `json:"transitions"`
}

// DispatcherStatus describes the work dispatcher.
type DispatcherStatus struct {
	Submitted  uint64 `json:"submitted"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Discarded  uint64 `json:"discarded"`
	Panics     uint64 `json:"panics"`
	QueueLen   int    `json:"queue_len"`
}

// VolumeRequest is the body of PUT /api/v1/volume.
type VolumeRequest struct {
	Volume *int `json:"volume"`
}

// VolumeResponse reports the applied volume.
type VolumeResponse struct {
	Volume uint8 `json:"volume"`
}

func newStatusResponse(st receiver.Status) StatusResponse {
	resp := StatusResponse{
		Device:       st.Device,
		Connection:   st.Connection.String(),
		Peer:         st.Peer,
		Audio:        st.Audio.String(),
		Volume:       st.Volume,
		Capabilities: uint16(st.Capabilities),
		Packets:      st.Packets,
		SampleRate:   st.SampleRate,
		Channels:     st.Channels,
		Title:        st.Title,
		Artist:       st.Artist,
		Album:        st.Album,
		Stream: StreamStatus{
			Running:       st.Stream.Running,
			SessionID:     st.Stream.SessionID,
			Mode:          st.Stream.Stats.Mode.String(),
			Fill:          st.Stream.Stats.Fill,
			InFlight:      st.Stream.Stats.InFlight,
			BytesWritten:  st.Stream.Stats.BytesWritten,
			BytesDropped:  st.Stream.Stats.BytesDropped,
			WritesDropped: st.Stream.Stats.WritesDropped,
			BytesDrained:  st.Stream.Stats.BytesDrained,
			Transitions:   st.Stream.Stats.Transitions,
		},
		Dispatcher: DispatcherStatus{
			Submitted:  st.Dispatcher.Submitted,
			Dispatched: st.Dispatcher.Dispatched,
			Dropped:    st.Dispatcher.Dropped,
			Discarded:  st.Dispatcher.Discarded,
			Panics:     st.Dispatcher.Panics,
			QueueLen:   st.Dispatcher.QueueLen,
		},
	}
	if st.Stream.Running {
		since := st.Stream.Since
		resp.Stream.Since = &since
	}
	return resp
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, newStatusResponse(s.receiver.Status()))
}

func (s *Server) putVolume(c echo.Context) error {
	var req VolumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Volume == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "volume is required")
	}
	if *req.Volume < 0 || *req.Volume > int(receiver.MaxVolume) {
		return echo.NewHTTPError(http.StatusBadRequest, "volume must be between 0 and 127")
	}

	applied := s.receiver.SetLocalVolume(uint8(*req.Volume))
	return c.JSON(http.StatusOK, VolumeResponse{Volume: applied})
}
