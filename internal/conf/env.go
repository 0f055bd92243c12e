// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BTSINK_DEBUG", validateEnvBool},
		{"device.name", "BTSINK_DEVICE_NAME", nil},

		{"dispatcher.queuesize", "BTSINK_DISPATCHER_QUEUESIZE", validateEnvPositiveInt},
		{"dispatcher.submittimeout", "BTSINK_DISPATCHER_SUBMITTIMEOUT", validateEnvDuration},

		{"stream.capacity", "BTSINK_STREAM_CAPACITY", validateEnvPositiveInt},
		{"stream.prefetchthreshold", "BTSINK_STREAM_PREFETCHTHRESHOLD", validateEnvPositiveInt},
		{"stream.chunksize", "BTSINK_STREAM_CHUNKSIZE", validateEnvPositiveInt},
		{"stream.readtimeout", "BTSINK_STREAM_READTIMEOUT", validateEnvDuration},

		{"sink.type", "BTSINK_SINK_TYPE", validateEnvSinkType},
		{"sink.device", "BTSINK_SINK_DEVICE", nil},
		{"sink.wav.path", "BTSINK_SINK_WAV_PATH", nil},

		{"http.enabled", "BTSINK_HTTP_ENABLED", validateEnvBool},
		{"http.listen", "BTSINK_HTTP_LISTEN", nil},

		{"mqtt.enabled", "BTSINK_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "BTSINK_MQTT_BROKER", validateEnvBrokerURL},
		{"mqtt.username", "BTSINK_MQTT_USERNAME", nil},
		{"mqtt.password", "BTSINK_MQTT_PASSWORD", nil},

		{"telemetry.enabled", "BTSINK_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "BTSINK_TELEMETRY_DSN", nil},

		{"logging.default_level", "BTSINK_LOG_LEVEL", validateEnvLogLevel},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func validateEnvSinkType(value string) error {
	switch value {
	case SinkMalgo, SinkWAV, SinkDiscard:
		return nil
	}
	return fmt.Errorf("sink type must be one of %s, %s, %s", SinkMalgo, SinkWAV, SinkDiscard)
}

func validateEnvBrokerURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
		return nil
	}
	return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
}

func validateEnvLogLevel(value string) error {
	switch value {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", value)
}
