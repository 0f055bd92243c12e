package receiver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/btsink/internal/bufferpool"
	"github.com/tphakala/btsink/internal/dispatch"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/stream"
)

// volumeNotifyTask reports local volume changes to the peer.
const volumeNotifyTask = "volume-notify"

var errShortMetadata = errors.NewStd("metadata response too short")

// Output is the audio device the stream drains into. Open is called when a
// peer starts connecting and Close after the stream has stopped.
type Output interface {
	stream.Sink
	Open() error
	Close() error
}

// Config holds controller configuration
type Config struct {
	DeviceName        string
	DelayOffset       uint16        // added to delay reports, 1/10 ms units
	InitialVolume     uint8         // absolute volume, 0..127
	VolumeNotifyDelay time.Duration // debounce before a local volume change is reported
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		DeviceName:        "btsink",
		DelayOffset:       50,
		InitialVolume:     0,
		VolumeNotifyDelay: 200 * time.Millisecond,
	}
}

// Status is a snapshot of the receiver state.
type Status struct {
	Device       string
	Connection   ConnectionState
	Peer         string
	Audio        AudioState
	Volume       uint8
	Capabilities CapabilityMask
	Packets      uint64
	SampleRate   int
	Channels     int
	Title        string
	Artist       string
	Album        string
	Stream       stream.Status
	Dispatcher   dispatch.Stats
}

// Option configures a Controller.
type Option func(*Controller)

// WithPeer sets the protocol stack boundary.
func WithPeer(p Peer) Option {
	return func(c *Controller) { c.peer = p }
}

// WithNotifier sets the state change notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStreamOptions passes options to the stream the controller creates.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(c *Controller) { c.streamOpts = append(c.streamOpts, opts...) }
}

// Controller ties connection lifecycle events to the audio stream.
type Controller struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	stream     *stream.Stream
	streamOpts []stream.Option
	output     Output
	peer       Peer
	notifier   Notifier
	volume     *Volume
	tasks      *TaskManager
	logger     logger.Logger

	// ctx is the controller lifetime set by Start. Streams and tasks derive
	// from it.
	ctx    context.Context
	cancel context.CancelFunc

	// handler state, only touched on the dispatcher worker
	outputOpen bool

	volumeRegistered atomic.Bool
	packets          atomic.Uint64

	statusMu sync.RWMutex
	status   Status

	handlers struct {
		connection    dispatch.Handler
		audioState    dispatch.Handler
		audioConfig   dispatch.Handler
		delay         dispatch.Handler
		remoteControl dispatch.Handler
		metadata      dispatch.Handler
		target        dispatch.Handler
	}
}

// GetLogger returns the receiver module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("receiver")
}

// New creates a controller that submits events to d and streams audio into
// out. The dispatcher must outlive the controller.
func New(cfg Config, d *dispatch.Dispatcher, streamCfg stream.Config, out Output, opts ...Option) (*Controller, error) {
	if d == nil || out == nil {
		return nil, errors.Newf("controller requires a dispatcher and an output").
			Component("receiver").
			Category(errors.CategoryValidation).
			Build()
	}

	c := &Controller{
		cfg:        cfg,
		dispatcher: d,
		output:     out,
		volume:     NewVolume(cfg.InitialVolume),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = GetLogger()
	}
	if c.peer == nil {
		c.peer = LogPeer{Logger: c.logger}
	}
	if c.notifier == nil {
		c.notifier = NopNotifier{}
	}
	c.tasks = NewTaskManager(c.logger)

	s, err := stream.New(streamCfg, out, c.streamOpts...)
	if err != nil {
		return nil, err
	}
	c.stream = s

	c.status = Status{Device: cfg.DeviceName, Volume: c.volume.Get()}

	c.handlers.connection = newEventHandler("connection", c.logger, c.handleConnection)
	c.handlers.audioState = newEventHandler("audio_state", c.logger, c.handleAudioState)
	c.handlers.audioConfig = newEventHandler("audio_config", c.logger, c.handleAudioConfig)
	c.handlers.delay = newEventHandler("delay", c.logger, c.handleDelay)
	c.handlers.remoteControl = newEventHandler("remote_control", c.logger, c.handleRemoteControl)
	c.handlers.metadata = newEventHandler("metadata", c.logger, c.handleMetadata)
	c.handlers.target = newEventHandler("target", c.logger, c.handleTarget)
	return c, nil
}

// Start makes the receiver connectable. ctx bounds streams and background
// tasks started later.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.peer.SetScanMode(true, true); err != nil {
		return errors.New(err).
			Component("receiver").
			Category(errors.CategoryReceiver).
			Context("operation", "set_scan_mode").
			Build()
	}
	c.logger.Info("receiver ready",
		logger.String("device", c.cfg.DeviceName),
		logger.Int("volume", int(c.volume.Get())))
	return nil
}

// Close stops the stream, closes the output and cancels background tasks.
// Call it after the dispatcher has shut down.
func (c *Controller) Close(timeout time.Duration) error {
	c.stream.Stop()
	c.closeOutput()
	if c.cancel != nil {
		c.cancel()
	}
	return c.tasks.Shutdown(timeout)
}

// Stream returns the controller's audio stream.
func (c *Controller) Stream() *stream.Stream {
	return c.stream
}

// Volume returns the shared volume.
func (c *Controller) Volume() *Volume {
	return c.volume
}

// Tasks returns the background task manager.
func (c *Controller) Tasks() *TaskManager {
	return c.tasks
}

// Status returns the current receiver state.
func (c *Controller) Status() Status {
	st := c.snapshot()
	st.Packets = c.packets.Load()
	st.Stream = c.stream.Status()
	st.Dispatcher = c.dispatcher.Stats()
	return st
}

func (c *Controller) updateStatus(fn func(*Status)) Status {
	c.statusMu.Lock()
	fn(&c.status)
	st := c.status
	c.statusMu.Unlock()
	st.Volume = c.volume.Get()
	return st
}

func (c *Controller) snapshot() Status {
	c.statusMu.RLock()
	st := c.status
	c.statusMu.RUnlock()
	st.Volume = c.volume.Get()
	return st
}

func (c *Controller) runContext() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Controller) notify(kind string, st Status) {
	c.notifier.Notify(StateChange{
		Kind:       kind,
		Device:     st.Device,
		Connection: st.Connection.String(),
		Audio:      st.Audio.String(),
		Volume:     st.Volume,
		Title:      st.Title,
		Artist:     st.Artist,
		SampleRate: st.SampleRate,
		Channels:   st.Channels,
		Timestamp:  time.Now(),
	})
}

// Protocol callbacks. Each may be called from any goroutine and returns
// false when the event was dropped.

// OnConnectionState reports an audio link state change.
func (c *Controller) OnConnectionState(ev ConnectionEvent) bool {
	return c.dispatcher.SubmitRecord(EventConnectionState, c.handlers.connection, ev)
}

// OnAudioState reports a media streaming state change.
func (c *Controller) OnAudioState(ev AudioStateEvent) bool {
	return c.dispatcher.SubmitRecord(EventAudioState, c.handlers.audioState, ev)
}

// OnAudioConfig reports the negotiated stream format.
func (c *Controller) OnAudioConfig(ev AudioConfigEvent) bool {
	return c.dispatcher.SubmitRecord(EventAudioConfig, c.handlers.audioConfig, ev)
}

// OnDelayQuery asks for a delay report.
func (c *Controller) OnDelayQuery(ev DelayEvent) bool {
	return c.dispatcher.SubmitRecord(EventDelayQuery, c.handlers.delay, ev)
}

// OnRemoteControl reports a controller role notification.
func (c *Controller) OnRemoteControl(ev RemoteControlEvent) bool {
	return c.dispatcher.SubmitRecord(EventRemoteControl, c.handlers.remoteControl, ev)
}

// OnTarget reports a target role notification.
func (c *Controller) OnTarget(ev TargetEvent) bool {
	return c.dispatcher.SubmitRecord(EventTarget, c.handlers.target, ev)
}

// OnMetadata reports a metadata response. text is only read during the call.
func (c *Controller) OnMetadata(attr uint8, text []byte) bool {
	wire := make([]byte, 1+len(text))
	wire[0] = attr
	copy(wire[1:], text)
	return c.dispatcher.Submit(EventMetadata, c.handlers.metadata, wire, c.copyMetadata)
}

// AudioData is the inbound audio callback. It writes straight into the stream
// and returns the number of bytes accepted.
func (c *Controller) AudioData(p []byte) int {
	n := c.packets.Add(1)
	if n%100 == 0 {
		c.logger.Trace("audio packets received", logger.Uint64("count", n))
	}
	return c.stream.Write(p)
}

// SetLocalVolume changes the volume from the host side and schedules a
// notification to the peer if it registered for volume changes.
func (c *Controller) SetLocalVolume(v uint8) uint8 {
	v, changed := c.volume.Set(v)
	if !changed {
		return v
	}
	c.localVolumeChanged(v)
	return v
}

// AdjustLocalVolume adds delta to the volume from the host side.
func (c *Controller) AdjustLocalVolume(delta int) uint8 {
	v, changed := c.volume.Adjust(delta)
	if changed {
		c.localVolumeChanged(v)
	}
	return v
}

func (c *Controller) localVolumeChanged(v uint8) {
	c.logger.Info("volume changed by local host", logger.Int("volume", int(v)))
	c.notify(ChangeVolume, c.snapshot())

	if !c.volumeRegistered.Load() {
		return
	}
	delay := c.cfg.VolumeNotifyDelay
	c.tasks.Start(c.runContext(), volumeNotifyTask, func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := c.peer.NotifyVolume(c.volume.Get()); err != nil {
			c.logger.Warn("volume notification failed", logger.Error(err))
		}
	})
}

// Handlers. These run on the dispatcher worker only.

func (c *Controller) handleConnection(ev ConnectionEvent) {
	log := c.logger.With(logger.String("state", ev.State.String()), logger.String("peer", ev.Peer))

	switch ev.State {
	case Connecting:
		c.openOutput()

	case Connected:
		if err := c.peer.SetScanMode(false, false); err != nil {
			log.Warn("failed to leave discoverable mode", logger.Error(err))
		}
		if !c.outputOpen {
			log.Warn("connected without connecting state, opening output now")
			c.openOutput()
		}
		if c.outputOpen {
			if err := c.stream.Start(c.runContext()); err != nil {
				log.Error("stream start failed, audio unavailable for this connection", logger.Error(err))
			}
		}

	case Disconnected:
		if err := c.peer.SetScanMode(true, true); err != nil {
			log.Warn("failed to enter discoverable mode", logger.Error(err))
		}
		c.stream.Stop()
		c.closeOutput()
		c.volumeRegistered.Store(false)
		c.tasks.Cancel(volumeNotifyTask)

	case Disconnecting:
	}

	log.Info("connection state changed")
	st := c.updateStatus(func(s *Status) {
		s.Connection = ev.State
		s.Peer = ev.Peer
		if ev.State == Disconnected {
			s.Capabilities = 0
			s.Audio = AudioStopped
			s.Title, s.Artist, s.Album = "", "", ""
		}
	})
	c.notify(ChangeConnection, st)
}

func (c *Controller) openOutput() {
	if c.outputOpen {
		return
	}
	if err := c.output.Open(); err != nil {
		c.logger.Error("failed to open audio output", logger.Error(err))
		return
	}
	c.outputOpen = true
}

func (c *Controller) closeOutput() {
	if !c.outputOpen {
		return
	}
	if err := c.output.Close(); err != nil {
		c.logger.Warn("failed to close audio output", logger.Error(err))
	}
	c.outputOpen = false
}

func (c *Controller) handleAudioState(ev AudioStateEvent) {
	if ev.State == AudioStarted {
		c.packets.Store(0)
	}
	c.logger.Info("audio state changed", logger.String("state", ev.State.String()))
	st := c.updateStatus(func(s *Status) { s.Audio = ev.State })
	c.notify(ChangeAudio, st)
}

func (c *Controller) handleAudioConfig(ev AudioConfigEvent) {
	c.logger.Info("audio format configured",
		logger.Int("sample_rate", ev.SampleRate),
		logger.Int("channels", ev.Channels))
	st := c.updateStatus(func(s *Status) {
		s.SampleRate = ev.SampleRate
		s.Channels = ev.Channels
	})
	c.notify(ChangeFormat, st)
}

func (c *Controller) handleDelay(ev DelayEvent) {
	value := ev.Value + c.cfg.DelayOffset
	if err := c.peer.ReportDelay(value); err != nil {
		c.logger.Warn("delay report failed", logger.Error(err), logger.Int("value", int(value)))
		return
	}
	c.logger.Debug("delay reported", logger.Int("query", int(ev.Value)), logger.Int("value", int(value)))
}

func (c *Controller) handleRemoteControl(ev RemoteControlEvent) {
	switch ev.Kind {
	case RCConnectionState:
		if ev.Connected {
			if err := c.peer.RequestCapabilities(); err != nil {
				c.logger.Warn("capability request failed", logger.Error(err))
			}
			return
		}
		c.updateStatus(func(s *Status) { s.Capabilities = 0 })

	case RCCapabilities:
		c.logger.Debug("peer notification capabilities",
			logger.Int("mask", int(ev.Capabilities)),
			logger.Bool("track_change", ev.Capabilities.Has(CapTrackChange)))
		c.updateStatus(func(s *Status) { s.Capabilities = ev.Capabilities })

	case RCPassthroughResponse, RCChangeNotify, RCRemoteFeatures:
		c.logger.Debug("remote control notification", logger.String("kind", ev.Kind.String()))

	default:
		c.logger.Warn("unhandled remote control event", logger.Int("kind", int(ev.Kind)))
	}
}

func (c *Controller) handleTarget(ev TargetEvent) {
	switch ev.Kind {
	case TargetConnectionState:
		if !ev.Connected {
			c.volumeRegistered.Store(false)
			c.tasks.Cancel(volumeNotifyTask)
		}

	case TargetRemoteFeatures, TargetPassthroughCommand:
		c.logger.Debug("target notification", logger.String("kind", ev.Kind.String()))

	case TargetSetAbsoluteVolume:
		v, changed := c.volume.Set(ev.Volume)
		c.logger.Info("volume set by peer", logger.Int("volume", int(v)))
		if changed {
			c.notify(ChangeVolume, c.snapshot())
		}

	case TargetRegisterNotification:
		if ev.Notification.Has(CapVolumeChange) {
			c.volumeRegistered.Store(true)
		}

	default:
		c.logger.Warn("unhandled target event", logger.String("kind", ev.Kind.String()))
	}
}

// metadataRecord is a metadata response whose attribute text lives in its
// own allocator block. The handler must Release it.
type metadataRecord struct {
	attr uint8
	text *bufferpool.Block
}

func (r *metadataRecord) Text() string {
	if r.text == nil {
		return ""
	}
	return string(r.text.Bytes())
}

// Release frees the attribute text block.
func (r *metadataRecord) Release() {
	if r.text == nil {
		return
	}
	_ = r.text.Release()
	r.text = nil
}

// copyMetadata deep-copies a metadata response: one attribute id byte
// followed by the attribute text.
func (c *Controller) copyMetadata(dst *dispatch.Payload, src []byte) error {
	if len(src) < 1 {
		return errShortMetadata
	}
	rec := &metadataRecord{attr: src[0]}
	if len(src) > 1 {
		block, err := c.dispatcher.Allocator().Alloc(len(src) - 1)
		if err != nil {
			return err
		}
		copy(block.Bytes(), src[1:])
		rec.text = block
	}
	dst.SetRecord(rec)
	return nil
}

func (c *Controller) handleMetadata(rec *metadataRecord) {
	defer rec.Release()

	text := rec.Text()
	st := c.updateStatus(func(s *Status) {
		switch rec.attr {
		case AttrTitle:
			s.Title = text
		case AttrArtist:
			s.Artist = text
		case AttrAlbum:
			s.Album = text
		}
	})
	c.logger.Debug("metadata", logger.Int("attr", int(rec.attr)), logger.String("text", text))
	c.notify(ChangeMetadata, st)
}

// eventHandler adapts a typed handler function to dispatch.Handler.
type eventHandler[T any] struct {
	name   string
	logger logger.Logger
	fn     func(T)
}

func newEventHandler[T any](name string, log logger.Logger, fn func(T)) *eventHandler[T] {
	return &eventHandler[T]{name: name, logger: log, fn: fn}
}

// Name returns the handler name used in logs and metrics.
func (h *eventHandler[T]) Name() string {
	return h.name
}

// HandleEvent type-checks the payload record and calls the typed handler.
func (h *eventHandler[T]) HandleEvent(event dispatch.EventID, p *dispatch.Payload) {
	rec, ok := p.Record().(T)
	if !ok {
		h.logger.Error("unexpected payload for event",
			logger.String("handler", h.name),
			logger.Int("event", int(event)),
			logger.String("kind", p.Kind().String()))
		return
	}
	h.fn(rec)
}
