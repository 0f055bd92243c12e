// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// Sink types
const (
	SinkMalgo   = "malgo"
	SinkWAV     = "wav"
	SinkDiscard = "discard"
)

// MaxAbsoluteVolume is the upper bound of the absolute volume scale.
const MaxAbsoluteVolume = 127

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		func(s *Settings) error { return validateDispatcherSettings(&s.Dispatcher) },
		func(s *Settings) error { return validateStreamSettings(&s.Stream) },
		func(s *Settings) error { return validateSinkSettings(&s.Sink) },
		func(s *Settings) error { return validateReceiverSettings(&s.Receiver) },
		func(s *Settings) error { return validateHTTPSettings(&s.HTTP) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func joinErrs(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %v", section, strings.Join(errs, "; "))
}

func validateDispatcherSettings(s *DispatcherSettings) error {
	var errs []string
	if s.QueueSize <= 0 {
		errs = append(errs, "queue size must be positive")
	}
	if s.SubmitTimeout <= 0 {
		errs = append(errs, "submit timeout must be positive")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "shutdown timeout must not be negative")
	}
	if s.MaxPayload <= 0 {
		errs = append(errs, "max payload must be positive")
	}
	return joinErrs("dispatcher", errs)
}

// validateStreamSettings enforces 0 < threshold < capacity and a chunk size
// that fits in the buffer.
func validateStreamSettings(s *StreamSettings) error {
	var errs []string
	if s.Capacity <= 0 {
		errs = append(errs, "capacity must be positive")
	}
	if s.PrefetchThreshold <= 0 || s.PrefetchThreshold >= s.Capacity {
		errs = append(errs, fmt.Sprintf("prefetch threshold %d must be between 0 and capacity %d (exclusive)",
			s.PrefetchThreshold, s.Capacity))
	}
	if s.ChunkSize <= 0 || s.ChunkSize > s.Capacity {
		errs = append(errs, fmt.Sprintf("chunk size %d must be between 1 and capacity %d", s.ChunkSize, s.Capacity))
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read timeout must be positive")
	}
	return joinErrs("stream", errs)
}

func validateSinkSettings(s *SinkSettings) error {
	var errs []string
	switch s.Type {
	case SinkMalgo, SinkDiscard:
	case SinkWAV:
		if s.WAV.Path == "" {
			errs = append(errs, "wav sink requires a path")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown sink type %q", s.Type))
	}
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Sprintf("sample rate %d out of range", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Sprintf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BitDepth != 16 {
		errs = append(errs, fmt.Sprintf("only 16-bit PCM is supported, got %d", s.BitDepth))
	}
	return joinErrs("sink", errs)
}

func validateReceiverSettings(s *ReceiverSettings) error {
	var errs []string
	if s.InitialVolume < 0 || s.InitialVolume > MaxAbsoluteVolume {
		errs = append(errs, fmt.Sprintf("initial volume must be 0..%d", MaxAbsoluteVolume))
	}
	if s.DelayOffset < 0 {
		errs = append(errs, "delay offset must not be negative")
	}
	return joinErrs("receiver", errs)
}

func validateHTTPSettings(s *HTTPSettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("http settings errors: invalid listen address %q: %w", s.Listen, err)
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) error {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.Broker == "" {
		errs = append(errs, "broker is required when MQTT is enabled")
	} else if err := validateEnvBrokerURL(s.Broker); err != nil {
		errs = append(errs, err.Error())
	}
	if s.Topic == "" {
		errs = append(errs, "topic is required when MQTT is enabled")
	}
	return joinErrs("mqtt", errs)
}
