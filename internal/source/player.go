package source

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// DeliverFunc receives one packet and returns the number of bytes accepted.
// The packet is only valid during the call.
type DeliverFunc func(p []byte) int

// PlayerConfig controls packet size and pacing.
type PlayerConfig struct {
	PacketSize int  // bytes per packet
	BurstSize  int  // packets delivered back to back before pacing
	Unpaced    bool // deliver as fast as the reader allows
}

// Stats summarizes a playback run.
type Stats struct {
	Packets  uint64
	Bytes    uint64
	Accepted uint64
	Rejected uint64 // packets the receiver did not take
	Elapsed  time.Duration
}

// Player delivers packets from a Reader at the stream's real-time rate.
type Player struct {
	cfg    PlayerConfig
	logger logger.Logger
}

// NewPlayer creates a player. A burst size below one is treated as one.
func NewPlayer(cfg PlayerConfig, log logger.Logger) (*Player, error) {
	if cfg.PacketSize <= 0 {
		return nil, errors.Newf("packet size must be positive, got %d", cfg.PacketSize).
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}
	cfg.BurstSize = max(cfg.BurstSize, 1)
	if log == nil {
		log = GetLogger()
	}
	return &Player{cfg: cfg, logger: log}, nil
}

// Play reads r to EOF, handing each packet to deliver. A trailing partial
// packet is delivered as is. Play returns early with the context error if ctx
// is cancelled.
func (p *Player) Play(ctx context.Context, r Reader, deliver DeliverFunc) (Stats, error) {
	f := r.Format()
	burstBytes := p.cfg.PacketSize * p.cfg.BurstSize

	var limiter *rate.Limiter
	if !p.cfg.Unpaced {
		limiter = rate.NewLimiter(rate.Limit(f.BytesPerSecond()), burstBytes)
	}

	p.logger.Info("source playback started",
		logger.Int("sample_rate", f.SampleRate),
		logger.Int("channels", f.Channels),
		logger.Int("packet_size", p.cfg.PacketSize),
		logger.Int("burst_size", p.cfg.BurstSize))

	var st Stats
	start := time.Now()
	buf := make([]byte, burstBytes)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if limiter != nil {
				// WaitN fails early when the wait would pass the deadline;
				// n never exceeds the burst, so only ctx can end the run.
				if err := limiter.WaitN(ctx, n); err != nil {
					<-ctx.Done()
					st.Elapsed = time.Since(start)
					return st, ctx.Err()
				}
			} else if err := ctx.Err(); err != nil {
				st.Elapsed = time.Since(start)
				return st, err
			}
			p.deliverBurst(buf[:n], deliver, &st)
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			st.Elapsed = time.Since(start)
			p.logger.Info("source playback finished",
				logger.Uint64("packets", st.Packets),
				logger.Uint64("bytes", st.Bytes),
				logger.Uint64("rejected", st.Rejected),
				logger.Duration("elapsed", st.Elapsed))
			return st, nil
		default:
			st.Elapsed = time.Since(start)
			return st, errors.New(readErr).
				Component("source").
				Category(errors.CategoryAudioSource).
				Context("operation", "read_input").
				Build()
		}
	}
}

func (p *Player) deliverBurst(burst []byte, deliver DeliverFunc, st *Stats) {
	for len(burst) > 0 {
		n := min(p.cfg.PacketSize, len(burst))
		accepted := deliver(burst[:n])
		st.Packets++
		st.Bytes += uint64(n)
		st.Accepted += uint64(accepted)
		if accepted == 0 {
			st.Rejected++
		}
		burst = burst[n:]
	}
}
