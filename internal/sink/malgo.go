package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// playbackQueueDepth is the number of writes buffered ahead of the device
// callback. Write blocks once the queue is full.
const playbackQueueDepth = 4

// MalgoSink plays audio on a system device.
type MalgoSink struct {
	cfg  Config
	opts options

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	closed chan struct{}

	queue   chan []byte
	pending []byte // callback only

	open      atomic.Bool
	underruns atomic.Uint64
	played    atomic.Uint64
}

// NewMalgoSink creates a closed playback sink.
func NewMalgoSink(cfg Config, opts ...Option) *MalgoSink {
	return &MalgoSink{
		cfg:  cfg,
		opts: buildOptions(opts),
	}
}

// Open initializes and starts the playback device.
func (s *MalgoSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open.Load() {
		return nil
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}

	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryAudioSink).
			Context("operation", "enumerate_devices").
			Build()
	}
	info, err := selectDevice(infos, s.cfg.Device)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(s.cfg.Channels)
	deviceConfig.Playback.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	s.queue = make(chan []byte, playbackQueueDepth)
	s.pending = nil
	s.closed = make(chan struct{})

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
		Stop: s.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryAudioSink).
			Context("device_name", info.Name()).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryAudioSink).
			Context("device_name", info.Name()).
			Context("operation", "start_device").
			Build()
	}

	s.mctx = mctx
	s.device = device
	s.open.Store(true)

	s.opts.logger.Info("playback device opened",
		logger.String("device", info.Name()),
		logger.Int("sample_rate", int(device.SampleRate())),
		logger.Int("channels", s.cfg.Channels))
	return nil
}

// Write queues p for playback. It blocks while the playback queue is full
// and returns early if ctx is cancelled or the sink is closed.
func (s *MalgoSink) Write(ctx context.Context, p []byte) (int, error) {
	if !s.open.Load() {
		return 0, errors.Newf("playback device not open").
			Component("sink").
			Category(errors.CategoryState).
			Build()
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	applyGain(buf, gainFor(s.cfg, s.opts))

	select {
	case s.queue <- buf:
		return len(p), nil
	case <-s.closed:
		return 0, errors.Newf("playback device closed").
			Component("sink").
			Category(errors.CategoryState).
			Build()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// onSamples fills the device buffer from the queue and pads underruns with
// silence.
func (s *MalgoSink) onSamples(out, _ []byte, _ uint32) {
	n := 0
	for n < len(out) {
		if len(s.pending) == 0 {
			select {
			case buf := <-s.queue:
				s.pending = buf
			default:
			}
			if len(s.pending) == 0 {
				break
			}
		}
		c := copy(out[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	if n < len(out) {
		clear(out[n:])
		if n > 0 || s.played.Load() > 0 {
			s.underruns.Add(1)
		}
	}
	s.played.Add(uint64(n))
}

func (s *MalgoSink) onStop() {
	if s.open.Load() {
		s.opts.logger.Warn("playback device stopped unexpectedly")
	}
}

// Close stops and releases the playback device.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open.Swap(false) {
		return nil
	}
	close(s.closed)

	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		s.mctx = nil
	}

	s.opts.logger.Info("playback device closed",
		logger.Uint64("bytes_played", s.played.Load()),
		logger.Uint64("underruns", s.underruns.Load()))
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryAudioSink).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

// Underruns returns the number of device callbacks padded with silence.
func (s *MalgoSink) Underruns() uint64 {
	return s.underruns.Load()
}
