// Package mqtt publishes receiver state changes to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/btsink/internal/logger"
)

// Client defines the MQTT operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message using the configured retain flag.
	Publish(ctx context.Context, topic, payload string) error

	// PublishWithRetain sends a message with an explicit retain flag.
	PublishWithRetain(ctx context.Context, topic, payload string, retain bool) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, state goes to <topic>/state
	Retain   bool   // true to retain state messages at the broker

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "btsink",
		ClientID:          "btsink",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		MaxReconnectDelay: 5 * time.Minute,
	}
}

// Topic suffixes
const (
	stateSuffix  = "/state"
	statusSuffix = "/status"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// StateTopic returns the topic state changes are published to.
func (c Config) StateTopic() string { return c.Topic + stateSuffix }

// StatusTopic returns the availability topic.
func (c Config) StatusTopic() string { return c.Topic + statusSuffix }

// GetLogger returns the MQTT module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
