// discovery.go: Home Assistant MQTT auto-discovery implementation.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// Sensor type constants
const (
	SensorConnection = "connection"
	SensorAudio      = "audio"
	SensorVolume     = "volume"
	SensorTitle      = "title"
	SensorArtist     = "artist"
)

const deviceIDPrefix = "btsink"

// AllSensorTypes lists all sensor types for iteration (e.g., during removal)
var AllSensorTypes = []string{
	SensorConnection,
	SensorAudio,
	SensorVolume,
	SensorTitle,
	SensorArtist,
}

// idSanitizer replaces invalid characters in IDs with underscores.
// Home Assistant requires IDs to contain only [a-zA-Z0-9_-].
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only valid characters for MQTT topics and HA entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	PayloadAvailable    string           `json:"payload_available,omitempty"`
	PayloadNotAvailable string           `json:"payload_not_available,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice  `json:"device"`
	Origin              *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin provides information about the software creating the discovery message.
type DiscoveryOrigin struct {
	Name      string `json:"name"`
	SWVersion string `json:"sw_version,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // Home Assistant discovery topic prefix (default: homeassistant)
	DeviceName      string // advertised receiver name
	Version         string
}

// sensorSpec describes one entity exposed for the receiver.
type sensorSpec struct {
	sensorType string
	name       string
	template   string
	icon       string
	unit       string
	stateClass string
}

var receiverSensors = []sensorSpec{
	{sensorType: SensorConnection, name: "Connection", template: "{{ value_json.connection }}", icon: "mdi:bluetooth-audio"},
	{sensorType: SensorAudio, name: "Audio", template: "{{ value_json.audio }}", icon: "mdi:play-pause"},
	{sensorType: SensorVolume, name: "Volume", template: "{{ value_json.volume }}", icon: "mdi:volume-high", stateClass: "measurement"},
	{sensorType: SensorTitle, name: "Title", template: "{{ value_json.title | default('') }}", icon: "mdi:music-note"},
	{sensorType: SensorArtist, name: "Artist", template: "{{ value_json.artist | default('') }}", icon: "mdi:account-music"},
}

// discoveryMessages builds the retained discovery configs for the receiver.
func discoveryMessages(cfg Config, dc DiscoveryConfig) (map[string]string, error) {
	nodeID := SanitizeID(dc.DeviceName)
	deviceID := fmt.Sprintf("%s_%s", deviceIDPrefix, nodeID)

	device := DiscoveryDevice{
		Identifiers:  []string{deviceID},
		Name:         dc.DeviceName,
		Manufacturer: "btsink",
		Model:        "Audio Sink",
		SWVersion:    dc.Version,
	}
	origin := &DiscoveryOrigin{Name: "btsink", SWVersion: dc.Version}

	msgs := make(map[string]string, len(receiverSensors))
	for _, s := range receiverSensors {
		payload := DiscoveryPayload{
			Name:                s.name,
			UniqueID:            deviceID + "_" + s.sensorType,
			StateTopic:          cfg.StateTopic(),
			ValueTemplate:       s.template,
			UnitOfMeasurement:   s.unit,
			StateClass:          s.stateClass,
			Icon:                s.icon,
			AvailabilityTopic:   cfg.StatusTopic(),
			PayloadAvailable:    payloadOnline,
			PayloadNotAvailable: payloadOffline,
			Device:              device,
			Origin:              origin,
		}
		data, err := json.Marshal(&payload)
		if err != nil {
			return nil, errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTPublish).
				Context("operation", "marshal_discovery").
				Build()
		}
		msgs[sensorTopic(dc.DiscoveryPrefix, nodeID, s.sensorType)] = string(data)
	}
	return msgs, nil
}

// sensorTopic constructs the discovery topic for a sensor.
func sensorTopic(prefix, nodeID, sensorType string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", prefix, nodeID, nodeID, sensorType)
}

// PublishDiscovery publishes retained Home Assistant discovery configs.
func PublishDiscovery(ctx context.Context, c Client, cfg Config, dc DiscoveryConfig) error {
	msgs, err := discoveryMessages(cfg, dc)
	if err != nil {
		return err
	}

	log := GetLogger()
	var firstErr error
	for topic, payload := range msgs {
		if err := c.PublishWithRetain(ctx, topic, payload, true); err != nil {
			log.Warn("failed to publish discovery config",
				logger.String("topic", topic),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	log.Info("Home Assistant discovery published", logger.Int("sensors", len(msgs)))
	return nil
}

// RemoveDiscovery publishes empty retained payloads to remove the entities.
func RemoveDiscovery(ctx context.Context, c Client, dc DiscoveryConfig) {
	nodeID := SanitizeID(dc.DeviceName)
	for _, sensorType := range AllSensorTypes {
		topic := sensorTopic(dc.DiscoveryPrefix, nodeID, sensorType)
		if err := c.PublishWithRetain(ctx, topic, "", true); err != nil {
			GetLogger().Warn("failed to remove discovery config",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}
}
