// Package stream buffers bursty inbound audio and drains it to a
// synchronous sink at the sink's own pace.
//
// A RingBuffer holds the backlog and runs a three-state flow controller:
// Prefetching accumulates bytes until the resume threshold is reached,
// Processing forwards them, and Dropping discards whole writes after an
// overflow until the backlog has shrunk back to the threshold. A single drain
// worker wakes on the WakeSignal and pulls bounded chunks until the buffer is
// empty.
package stream

// Mode is the flow controller state.
type Mode uint8

const (
	// ModePrefetching accumulates data; the drain worker is idle.
	ModePrefetching Mode = iota
	// ModeProcessing forwards data to the sink.
	ModeProcessing
	// ModeDropping discards producer writes while the backlog drains.
	ModeDropping
)

func (m Mode) String() string {
	switch m {
	case ModePrefetching:
		return "prefetching"
	case ModeProcessing:
		return "processing"
	case ModeDropping:
		return "dropping"
	default:
		return "unknown"
	}
}
