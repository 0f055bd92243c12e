package receiver

import "sync"

// MaxVolume is the top of the absolute volume scale.
const MaxVolume uint8 = 127

// Volume is the absolute playback volume shared by the remote peer and the
// local host.
type Volume struct {
	mu    sync.Mutex
	value uint8
}

// NewVolume returns a volume set to initial, clamped to MaxVolume.
func NewVolume(initial uint8) *Volume {
	return &Volume{value: min(initial, MaxVolume)}
}

// Get returns the current volume.
func (v *Volume) Get() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set stores value clamped to MaxVolume and reports whether it changed.
func (v *Volume) Set(value uint8) (uint8, bool) {
	value = min(value, MaxVolume)
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := v.value != value
	v.value = value
	return value, changed
}

// Adjust adds delta to the volume, saturating at 0 and MaxVolume, and
// returns the new value and whether it changed.
func (v *Volume) Adjust(delta int) (uint8, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := uint8(max(0, min(int(v.value)+delta, int(MaxVolume))))
	changed := v.value != next
	v.value = next
	return next, changed
}

// Gain returns the volume as a linear factor in [0, 1].
func (v *Volume) Gain() float64 {
	return float64(v.Get()) / float64(MaxVolume)
}
