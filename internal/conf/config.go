// Package conf loads, validates and persists btsink settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// DeviceSettings identifies this receiver to peers and in notifications.
type DeviceSettings struct {
	Name string // advertised device name
}

// DispatcherSettings configures the work dispatcher.
type DispatcherSettings struct {
	QueueSize       int           // bounded FIFO depth
	SubmitTimeout   time.Duration // max wait for queue space in Submit
	ShutdownTimeout time.Duration // max time to drain queued messages on shutdown
	MaxPayload      int           // largest payload block Submit will allocate
}

// StreamSettings configures the ring buffer and drain worker.
type StreamSettings struct {
	Capacity          int           // ring buffer size in bytes
	PrefetchThreshold int           // fill level that ends prefetching and dropping
	ChunkSize         int           // max bytes per drain pull
	ReadTimeout       time.Duration // drain pull timeout
}

// WAVSettings configures the WAV file sink.
type WAVSettings struct {
	Path string
}

// SinkSettings configures the audio output.
type SinkSettings struct {
	Type           string // malgo, wav or discard
	Device         string // playback device name, empty for system default
	SampleRate     int
	Channels       int
	BitDepth       int
	SoftwareVolume bool // apply absolute volume as gain before playback
	WAV            WAVSettings
}

// SourceSettings configures the simulated inbound producer.
type SourceSettings struct {
	PacketSize int // bytes per delivered packet
	BurstSize  int // packets delivered back to back per burst
}

// ReceiverSettings configures the lifecycle controller.
type ReceiverSettings struct {
	DelayOffset   int // added to reported delay values, in 1/10 ms
	InitialVolume int // absolute volume at startup, 0..127
}

// HTTPSettings configures the status and metrics endpoint.
type HTTPSettings struct {
	Enabled bool
	Listen  string
}

// MQTTSettings configures state notifications.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT base topic
	ClientID string
	Username string
	Password string
	Retain   bool

	HomeAssistant   bool   // publish Home Assistant discovery configs
	DiscoveryPrefix string // discovery topic prefix
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Enabled bool
	DSN     string
}

// Settings contains all configuration options for btsink.
type Settings struct {
	Debug      bool
	Device     DeviceSettings
	Dispatcher DispatcherSettings
	Stream     StreamSettings
	Sink       SinkSettings
	Source     SourceSettings
	Receiver   ReceiverSettings
	HTTP       HTTPSettings
	MQTT       MQTTSettings
	Telemetry  TelemetrySettings
	Logging    logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// GetLogger returns the configuration module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("conf")
}

// Load reads defaults, the config file and environment into a validated Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper sets defaults, binds environment variables and reads the config
// file if one exists. A missing file is not an error.
func initViper() error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			viper.AddConfigPath(p)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}
	GetLogger().Info("loaded config file", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// Setting returns the last loaded settings, or nil before Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "btsink"),
		"/etc/btsink",
	}, nil
}

// Defaults returns a Settings populated from defaults only.
func Defaults() (*Settings, error) {
	v := viper.New()
	applyDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveYAMLConfig writes settings to configPath atomically.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		return fmt.Errorf("error moving config into place: %w", err)
	}
	return nil
}
