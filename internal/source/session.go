package source

import (
	"context"
	"time"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/receiver"
)

// Link is the receiver side of a simulated audio connection.
type Link interface {
	OnConnectionState(ev receiver.ConnectionEvent) bool
	OnAudioState(ev receiver.AudioStateEvent) bool
	OnAudioConfig(ev receiver.AudioConfigEvent) bool
	OnRemoteControl(ev receiver.RemoteControlEvent) bool
	OnTarget(ev receiver.TargetEvent) bool
	OnMetadata(attr uint8, text []byte) bool
	AudioData(p []byte) int
}

// SessionConfig describes a simulated connection.
type SessionConfig struct {
	Peer         string        // peer name reported with connection events
	Title        string        // metadata title, empty for none
	ReadyTimeout time.Duration // max wait for the receiver to accept audio
	DrainWait    time.Duration // time allowed for buffered audio to play out
}

// Session plays a Reader through a Link as one connection: connecting,
// connected, audio, disconnected.
type Session struct {
	cfg    SessionConfig
	link   Link
	ready  func() bool
	idle   func() bool
	player *Player
	logger logger.Logger
}

// NewSession creates a session. ready reports whether the receiver accepts
// audio; idle reports whether buffered audio has played out. Either may be
// nil.
func NewSession(cfg SessionConfig, link Link, player *Player, ready, idle func() bool, log logger.Logger) *Session {
	if log == nil {
		log = GetLogger()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	return &Session{cfg: cfg, link: link, ready: ready, idle: idle, player: player, logger: log}
}

// Run plays r to the end or until ctx is cancelled. The disconnect events
// are always sent.
func (s *Session) Run(ctx context.Context, r Reader) (Stats, error) {
	f := r.Format()
	s.submit("connecting", s.link.OnConnectionState(receiver.ConnectionEvent{State: receiver.Connecting, Peer: s.cfg.Peer}))
	s.submit("audio config", s.link.OnAudioConfig(receiver.AudioConfigEvent{SampleRate: f.SampleRate, Channels: f.Channels}))
	s.submit("connected", s.link.OnConnectionState(receiver.ConnectionEvent{State: receiver.Connected, Peer: s.cfg.Peer}))
	s.submit("remote control", s.link.OnRemoteControl(receiver.RemoteControlEvent{Kind: receiver.RCConnectionState, Connected: true}))
	s.submit("target", s.link.OnTarget(receiver.TargetEvent{Kind: receiver.TargetConnectionState, Connected: true}))
	s.submit("register", s.link.OnTarget(receiver.TargetEvent{Kind: receiver.TargetRegisterNotification, Notification: receiver.CapVolumeChange}))
	if s.cfg.Title != "" {
		s.submit("metadata", s.link.OnMetadata(receiver.AttrTitle, []byte(s.cfg.Title)))
	}

	defer s.disconnect()

	if err := s.waitFor(ctx, s.ready, s.cfg.ReadyTimeout); err != nil {
		return Stats{}, errors.New(err).
			Component("source").
			Category(errors.CategoryReceiver).
			Context("operation", "wait_ready").
			Build()
	}

	s.submit("audio started", s.link.OnAudioState(receiver.AudioStateEvent{State: receiver.AudioStarted}))
	st, err := s.player.Play(ctx, r, s.link.AudioData)
	if err != nil {
		return st, err
	}

	if s.cfg.DrainWait > 0 {
		if err := s.waitFor(ctx, s.idle, s.cfg.DrainWait); err != nil {
			s.logger.Debug("buffered audio not fully played", logger.Error(err))
		}
	}
	return st, nil
}

func (s *Session) disconnect() {
	s.submit("audio stopped", s.link.OnAudioState(receiver.AudioStateEvent{State: receiver.AudioStopped}))
	s.submit("target disconnected", s.link.OnTarget(receiver.TargetEvent{Kind: receiver.TargetConnectionState}))
	s.submit("remote control disconnected", s.link.OnRemoteControl(receiver.RemoteControlEvent{Kind: receiver.RCConnectionState}))
	s.submit("disconnected", s.link.OnConnectionState(receiver.ConnectionEvent{State: receiver.Disconnected, Peer: s.cfg.Peer}))
}

func (s *Session) submit(what string, ok bool) {
	if !ok {
		s.logger.Warn("receiver dropped event", logger.String("event", what))
	}
}

// waitFor polls cond until it holds, timeout passes or ctx ends.
func (s *Session) waitFor(ctx context.Context, cond func() bool, timeout time.Duration) error {
	if cond == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for !cond() {
		select {
		case <-ticker.C:
		case <-deadline.C:
			return errors.Newf("condition not met within %s", timeout).
				Component("source").
				Category(errors.CategoryTimeout).
				Build()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
