package stream

import "context"

// WakeSignal is a binary producer to consumer signal. Raising an already
// raised signal has no effect.
type WakeSignal struct {
	ch chan struct{}
}

// NewWakeSignal returns a lowered signal.
func NewWakeSignal() *WakeSignal {
	return &WakeSignal{ch: make(chan struct{}, 1)}
}

// Raise sets the signal. It reports false if the signal was already set.
func (w *WakeSignal) Raise() bool {
	select {
	case w.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is raised, consuming it, or ctx is done.
func (w *WakeSignal) Wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether the signal is raised.
func (w *WakeSignal) Pending() bool {
	return len(w.ch) > 0
}

// Clear lowers the signal without waiting.
func (w *WakeSignal) Clear() {
	select {
	case <-w.ch:
	default:
	}
}
