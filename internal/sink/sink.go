// Package sink provides audio outputs for drained stream data: a playback
// device through malgo, a WAV file recorder and a discarding sink.
//
// All sinks take interleaved signed 16-bit little-endian PCM.
package sink

import (
	"context"
	"time"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// Sink types
const (
	TypeMalgo   = "malgo"
	TypeWAV     = "wav"
	TypeDiscard = "discard"
)

// Output is an audio sink with an explicit device lifecycle.
type Output interface {
	Open() error
	Close() error
	Write(ctx context.Context, p []byte) (int, error)
}

// Config holds sink configuration
type Config struct {
	Type           string
	Device         string // playback device name or id, empty for default
	SampleRate     int
	Channels       int
	BitDepth       int
	SoftwareVolume bool   // scale samples by the gain function
	WAVPath        string // output file for the wav sink
	Paced          bool   // discard sink sleeps for the real-time duration of each write
}

// BytesPerSecond returns the PCM data rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BitDepth / 8
}

// FrameSize returns the size of one interleaved frame in bytes.
func (c Config) FrameSize() int {
	return c.Channels * c.BitDepth / 8
}

// Duration returns the playback time of n bytes.
func (c Config) Duration(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.BitDepth != 16 {
		return errors.Newf("unsupported sink format: %d Hz, %d channels, %d bit", c.SampleRate, c.Channels, c.BitDepth).
			Component("sink").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Option configures a sink.
type Option func(*options)

type options struct {
	gain   func() float64
	logger logger.Logger
}

// WithGain sets the software volume source, a linear factor in [0, 1]. It is
// only used when Config.SoftwareVolume is set.
func WithGain(fn func() float64) Option {
	return func(o *options) { o.gain = fn }
}

// WithLogger sets the sink logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = GetLogger()
	}
	return o
}

// GetLogger returns the sink module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("sink")
}

// New creates the sink selected by cfg.Type.
func New(cfg Config, opts ...Option) (Output, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeMalgo:
		return NewMalgoSink(cfg, opts...), nil
	case TypeWAV:
		return NewWAVSink(cfg, opts...)
	case TypeDiscard:
		return NewDiscardSink(cfg, opts...), nil
	default:
		return nil, errors.Newf("unknown sink type %q", cfg.Type).
			Component("sink").
			Category(errors.CategoryValidation).
			Build()
	}
}

// gainFor returns the gain to apply, or 1 when software volume is off.
func gainFor(cfg Config, o options) float64 {
	if !cfg.SoftwareVolume || o.gain == nil {
		return 1
	}
	return o.gain()
}

// applyGain scales S16LE samples in place.
func applyGain(buffer []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i < len(buffer)-1; i += 2 {
		sample := int16(buffer[i]) | (int16(buffer[i+1]) << 8)

		amplified := float64(sample) * gain
		if amplified > 32767 {
			amplified = 32767
		} else if amplified < -32768 {
			amplified = -32768
		}

		sample = int16(amplified)
		buffer[i] = byte(sample)
		buffer[i+1] = byte(sample >> 8)
	}
}
