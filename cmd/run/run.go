// Package run implements the run command: play an input through the full
// receiver pipeline as a simulated connection.
package run

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/btsink/internal/buildinfo"
	"github.com/tphakala/btsink/internal/conf"
	"github.com/tphakala/btsink/internal/dispatch"
	"github.com/tphakala/btsink/internal/httpserver"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/mqtt"
	"github.com/tphakala/btsink/internal/observability"
	"github.com/tphakala/btsink/internal/receiver"
	"github.com/tphakala/btsink/internal/sink"
	"github.com/tphakala/btsink/internal/source"
	"github.com/tphakala/btsink/internal/stream"
)

const (
	closeTimeout = 2 * time.Second
	drainWait    = 5 * time.Second
)

type options struct {
	input   string
	peer    string
	unpaced bool
	hold    bool
}

// Command creates the run command.
func Command(info *buildinfo.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play audio through the receiver as a simulated connection",
		Long: `Play a WAV or raw S16LE file (or stdin with "-") through the dispatcher,
lifecycle controller, ring buffer and configured sink. The input is delivered
as a single connection: connecting, connected, audio, disconnected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), conf.Setting(), info, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Input file, .wav or raw S16LE, - for stdin")
	cmd.Flags().StringVar(&opts.peer, "peer", "simulated", "Peer name reported with connection events")
	cmd.Flags().BoolVar(&opts.unpaced, "unpaced", false, "Deliver input as fast as possible")
	cmd.Flags().BoolVar(&opts.hold, "hold", false, "Keep running after the input ends until interrupted")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func execute(parent context.Context, settings *conf.Settings, info *buildinfo.Context, opts options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("run")

	reader, err := source.Open(opts.input, source.Format{
		SampleRate: settings.Sink.SampleRate,
		Channels:   settings.Sink.Channels,
		BitDepth:   settings.Sink.BitDepth,
	})
	if err != nil {
		return err
	}
	defer reader.Close()
	format := reader.Format()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	d, err := dispatch.New(dispatch.Config{
		QueueSize:       settings.Dispatcher.QueueSize,
		SubmitTimeout:   settings.Dispatcher.SubmitTimeout,
		ShutdownTimeout: settings.Dispatcher.ShutdownTimeout,
		MaxPayload:      settings.Dispatcher.MaxPayload,
	}, dispatch.WithMetrics(m.Dispatch))
	if err != nil {
		return err
	}

	// the negotiated format comes from the input, as a peer would announce it
	var ctrl *receiver.Controller
	out, err := sink.New(sink.Config{
		Type:           settings.Sink.Type,
		Device:         settings.Sink.Device,
		SampleRate:     format.SampleRate,
		Channels:       format.Channels,
		BitDepth:       format.BitDepth,
		SoftwareVolume: settings.Sink.SoftwareVolume,
		WAVPath:        settings.Sink.WAV.Path,
		Paced:          true,
	}, sink.WithGain(func() float64 { return ctrl.Volume().Gain() }))
	if err != nil {
		return err
	}

	var publisher *mqtt.Publisher
	var notifier receiver.Notifier = receiver.NopNotifier{}
	if settings.MQTT.Enabled {
		publisher = newPublisher(settings, info, m)
		notifier = publisher
	}

	ctrl, err = receiver.New(receiver.Config{
		DeviceName:        settings.Device.Name,
		DelayOffset:       uint16(settings.Receiver.DelayOffset),
		InitialVolume:     uint8(settings.Receiver.InitialVolume),
		VolumeNotifyDelay: receiver.DefaultConfig().VolumeNotifyDelay,
	}, d, stream.Config{
		Capacity:          settings.Stream.Capacity,
		PrefetchThreshold: settings.Stream.PrefetchThreshold,
		ChunkSize:         settings.Stream.ChunkSize,
		ReadTimeout:       settings.Stream.ReadTimeout,
	}, out,
		receiver.WithNotifier(notifier),
		receiver.WithStreamOptions(stream.WithMetrics(m.Stream)))
	if err != nil {
		return err
	}

	player, err := source.NewPlayer(source.PlayerConfig{
		PacketSize: settings.Source.PacketSize,
		BurstSize:  settings.Source.BurstSize,
		Unpaced:    opts.unpaced,
	}, nil)
	if err != nil {
		return err
	}

	// The dispatcher outlives the errgroup so queued disconnect events are
	// delivered before the controller closes.
	if err := d.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		_ = d.Shutdown(closeTimeout)
		return err
	}

	// The publisher also outlives the group so disconnect notifications
	// reach the broker.
	if publisher != nil {
		if err := publisher.Connect(ctx); err != nil {
			log.Warn("MQTT unavailable, continuing without notifications", logger.Error(err))
		}
		go func() { _ = publisher.Run(context.WithoutCancel(ctx)) }()
	}

	g, gctx := errgroup.WithContext(ctx)

	if settings.HTTP.Enabled {
		srv := httpserver.New(settings.HTTP.Listen, ctrl, httpserver.WithMetricsHandler(m.Handler()))
		g.Go(func() error { return srv.Run(gctx) })
	}

	sessionDone := make(chan struct{})
	g.Go(func() error {
		defer close(sessionDone)
		session := source.NewSession(source.SessionConfig{
			Peer:      opts.peer,
			Title:     titleFor(opts.input),
			DrainWait: drainWait,
		}, ctrl, player, ctrl.Stream().Running, func() bool {
			return ctrl.Stream().Status().Stats.Fill == 0
		}, nil)

		st, err := session.Run(gctx, reader)
		if err != nil && gctx.Err() == nil {
			return err
		}
		log.Info("input finished",
			logger.Uint64("packets", st.Packets),
			logger.Uint64("bytes", st.Bytes),
			logger.Uint64("rejected", st.Rejected),
			logger.Duration("elapsed", st.Elapsed))
		return nil
	})

	// stop the group once the session ends, unless asked to keep serving
	g.Go(func() error {
		select {
		case <-sessionDone:
			if !opts.hold {
				stop()
			}
		case <-gctx.Done():
		}
		return nil
	})

	waitErr := g.Wait()

	shutdownErr := d.Shutdown(closeTimeout)
	closeErr := ctrl.Close(closeTimeout)
	if publisher != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		publisher.Close(closeCtx)
		cancel()
	}

	status := ctrl.Status()
	log.Info("receiver stopped",
		logger.Uint64("bytes_written", status.Stream.Stats.BytesWritten),
		logger.Uint64("bytes_dropped", status.Stream.Stats.BytesDropped),
		logger.Uint64("bytes_drained", status.Stream.Stats.BytesDrained),
		logger.Uint64("events_dispatched", status.Dispatcher.Dispatched),
		logger.Uint64("events_dropped", status.Dispatcher.Dropped))

	for _, err := range []error{waitErr, shutdownErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

func newPublisher(settings *conf.Settings, info *buildinfo.Context, m *observability.Metrics) *mqtt.Publisher {
	cfg := mqtt.DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.ClientID = settings.MQTT.ClientID
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Topic = settings.MQTT.Topic
	cfg.Retain = settings.MQTT.Retain

	opts := []mqtt.PublisherOption{mqtt.WithMetrics(m.MQTT)}
	if settings.MQTT.HomeAssistant {
		opts = append(opts, mqtt.WithDiscovery(mqtt.DiscoveryConfig{
			DiscoveryPrefix: settings.MQTT.DiscoveryPrefix,
			DeviceName:      settings.Device.Name,
			Version:         info.Version(),
		}))
	}
	return mqtt.NewPublisher(mqtt.NewClient(cfg, m.MQTT), cfg, opts...)
}

func titleFor(input string) string {
	if input == "-" {
		return ""
	}
	base := filepath.Base(input)
	return base[:len(base)-len(filepath.Ext(base))]
}
