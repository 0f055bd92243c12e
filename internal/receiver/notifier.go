package receiver

import "time"

// StateChange kinds.
const (
	ChangeConnection = "connection"
	ChangeAudio      = "audio"
	ChangeVolume     = "volume"
	ChangeMetadata   = "metadata"
	ChangeFormat     = "format"
)

// StateChange describes a receiver state transition for external observers.
type StateChange struct {
	Kind       string    `json:"kind"`
	Device     string    `json:"device"`
	Connection string    `json:"connection"`
	Audio      string    `json:"audio"`
	Volume     uint8     `json:"volume"`
	Title      string    `json:"title,omitempty"`
	Artist     string    `json:"artist,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier receives state changes. Notify must not block.
type Notifier interface {
	Notify(change StateChange)
}

// NopNotifier discards state changes.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(StateChange) {}
