// Package receiver drives the audio stream from the connection lifecycle of
// a wireless audio peer.
//
// Protocol callbacks arrive on arbitrary goroutines. Controller turns each of
// them into a typed event and submits it to the work dispatcher, so every
// handler in this package runs on the single dispatcher worker and may touch
// handler-only state without locking. Inbound audio data is the exception: it
// is written straight into the stream.
package receiver

import (
	"github.com/tphakala/btsink/internal/dispatch"
)

// Event identifiers submitted to the dispatcher.
const (
	EventConnectionState dispatch.EventID = iota + 1
	EventAudioState
	EventAudioConfig
	EventDelayQuery
	EventRemoteControl
	EventMetadata
	EventTarget
)

// ConnectionState is the audio link state reported by the peer stack.
type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// AudioState is the media streaming state.
type AudioState uint8

const (
	AudioStopped AudioState = iota
	AudioStarted
	AudioSuspended
)

func (s AudioState) String() string {
	switch s {
	case AudioStopped:
		return "stopped"
	case AudioStarted:
		return "started"
	case AudioSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// ConnectionEvent reports an audio link state change.
type ConnectionEvent struct {
	State ConnectionState
	Peer  string // peer address, informational
}

// AudioStateEvent reports a media streaming state change.
type AudioStateEvent struct {
	State AudioState
}

// AudioConfigEvent reports the negotiated stream format.
type AudioConfigEvent struct {
	SampleRate int
	Channels   int
}

// DelayEvent asks the receiver for its delay report. Value is in 1/10 ms.
type DelayEvent struct {
	Value uint16
}

// RemoteControlKind enumerates controller role notifications.
type RemoteControlKind uint8

const (
	RCConnectionState RemoteControlKind = iota
	RCPassthroughResponse
	RCChangeNotify
	RCRemoteFeatures
	RCCapabilities
)

func (k RemoteControlKind) String() string {
	switch k {
	case RCConnectionState:
		return "connection_state"
	case RCPassthroughResponse:
		return "passthrough_response"
	case RCChangeNotify:
		return "change_notify"
	case RCRemoteFeatures:
		return "remote_features"
	case RCCapabilities:
		return "capabilities"
	default:
		return "unknown"
	}
}

// CapabilityMask is the set of notification events the peer supports, one
// bit per event id.
type CapabilityMask uint16

// Notification event bits used by the receiver.
const (
	CapPlayStatusChange CapabilityMask = 1 << 1
	CapTrackChange      CapabilityMask = 1 << 2
	CapVolumeChange     CapabilityMask = 1 << 13
)

// Has reports whether all bits of c are set.
func (m CapabilityMask) Has(c CapabilityMask) bool {
	return m&c == c
}

// RemoteControlEvent is a controller role notification.
type RemoteControlEvent struct {
	Kind         RemoteControlKind
	Connected    bool           // RCConnectionState
	Capabilities CapabilityMask // RCCapabilities
}

// Metadata attribute ids.
const (
	AttrTitle  uint8 = 0x01
	AttrArtist uint8 = 0x02
	AttrAlbum  uint8 = 0x04
)

// TargetKind enumerates target role notifications.
type TargetKind uint8

const (
	TargetConnectionState TargetKind = iota
	TargetRemoteFeatures
	TargetPassthroughCommand
	TargetSetAbsoluteVolume
	TargetRegisterNotification
	TargetSetPlayerValue
)

func (k TargetKind) String() string {
	switch k {
	case TargetConnectionState:
		return "connection_state"
	case TargetRemoteFeatures:
		return "remote_features"
	case TargetPassthroughCommand:
		return "passthrough_command"
	case TargetSetAbsoluteVolume:
		return "set_absolute_volume"
	case TargetRegisterNotification:
		return "register_notification"
	case TargetSetPlayerValue:
		return "set_player_value"
	default:
		return "unknown"
	}
}

// TargetEvent is a target role notification.
type TargetEvent struct {
	Kind         TargetKind
	Connected    bool           // TargetConnectionState
	Volume       uint8          // TargetSetAbsoluteVolume
	Notification CapabilityMask // TargetRegisterNotification
}
