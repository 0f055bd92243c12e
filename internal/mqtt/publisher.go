package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/observability/metrics"
	"github.com/tphakala/btsink/internal/receiver"
)

// defaultQueueSize bounds state changes waiting to be published.
const defaultQueueSize = 64

// Publisher forwards receiver state changes to MQTT. Notify never blocks;
// changes are dropped when the queue is full.
type Publisher struct {
	client    Client
	config    Config
	discovery *DiscoveryConfig
	metrics   *metrics.MQTTMetrics
	logger    logger.Logger

	queue chan receiver.StateChange

	mu      sync.Mutex
	closed  bool
	running atomic.Bool
	done    chan struct{}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDiscovery enables Home Assistant discovery on connect.
func WithDiscovery(dc DiscoveryConfig) PublisherOption {
	return func(p *Publisher) { p.discovery = &dc }
}

// WithMetrics sets the MQTT metrics recorder.
func WithMetrics(m *metrics.MQTTMetrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithQueueSize sets the number of changes buffered ahead of the broker.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan receiver.StateChange, n)
		}
	}
}

// NewPublisher creates a publisher over c.
func NewPublisher(c Client, cfg Config, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: c,
		config: cfg,
		logger: GetLogger(),
		queue:  make(chan receiver.StateChange, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect connects the client and publishes discovery configs if enabled.
// A discovery failure is logged, not returned.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.client.Connect(ctx); err != nil {
		return err
	}
	if p.discovery != nil {
		if err := PublishDiscovery(ctx, p.client, p.config, *p.discovery); err != nil {
			p.logger.Warn("Home Assistant discovery incomplete", logger.Error(err))
		}
	}
	return nil
}

// Notify queues a state change for publishing.
func (p *Publisher) Notify(change receiver.StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- change:
	default:
		if p.metrics != nil {
			p.metrics.RecordDropped()
		}
		p.logger.Debug("state change dropped, publish queue full",
			logger.String("kind", change.Kind))
	}
}

// Run publishes queued changes until Close is called or ctx is done.
// Changes still queued when Close is called are published before Run
// returns.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(p.done)
	for {
		select {
		case change, ok := <-p.queue:
			if !ok {
				return nil
			}
			p.publish(ctx, change)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, change receiver.StateChange) {
	data, err := json.Marshal(&change)
	if err != nil {
		p.logger.Error("failed to encode state change", logger.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.config.StateTopic(), string(data)); err != nil {
		p.logger.Warn("failed to publish state change",
			logger.String("kind", change.Kind),
			logger.Error(err))
	}
}

// Close stops accepting changes, waits for Run to finish if it is running,
// and disconnects.
func (p *Publisher) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	if p.running.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
		}
	}
	p.client.Disconnect()
}
