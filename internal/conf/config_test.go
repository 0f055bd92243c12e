package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink/internal/receiver"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultQueueSize, s.Dispatcher.QueueSize)
	assert.Equal(t, 10*time.Millisecond, s.Dispatcher.SubmitTimeout)
	assert.Equal(t, 32768, s.Stream.Capacity)
	assert.Equal(t, 20480, s.Stream.PrefetchThreshold)
	assert.Equal(t, 1440, s.Stream.ChunkSize)
	assert.Equal(t, 20*time.Millisecond, s.Stream.ReadTimeout)
	assert.Equal(t, 50, s.Receiver.DelayOffset)
	assert.Equal(t, SinkMalgo, s.Sink.Type)
	assert.Equal(t, "info", s.Logging.DefaultLevel)
	assert.Same(t, s, Setting())
}

func TestReceiverDefaultsMatchLibrary(t *testing.T) {
	resetViper(t)

	s, err := Load()
	require.NoError(t, err)

	lib := receiver.DefaultConfig()
	assert.Equal(t, int(lib.InitialVolume), s.Receiver.InitialVolume)
	assert.Equal(t, int(lib.DelayOffset), s.Receiver.DelayOffset)
}

func TestLoadEnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("BTSINK_STREAM_CAPACITY", "65536")
	t.Setenv("BTSINK_STREAM_READTIMEOUT", "5ms")
	t.Setenv("BTSINK_SINK_TYPE", "discard")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 65536, s.Stream.Capacity)
	assert.Equal(t, 5*time.Millisecond, s.Stream.ReadTimeout)
	assert.Equal(t, SinkDiscard, s.Sink.Type)
}

func TestLoadRejectsThresholdAboveCapacity(t *testing.T) {
	resetViper(t)
	t.Setenv("BTSINK_STREAM_PREFETCHTHRESHOLD", "40000")

	_, err := Load()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Errors, 1)
	assert.Contains(t, ve.Errors[0], "prefetch threshold")
}

func TestSaveAndReloadYAML(t *testing.T) {
	resetViper(t)

	defaults, err := Defaults()
	require.NoError(t, err)
	defaults.Stream.ChunkSize = 960
	defaults.Sink.Type = SinkWAV
	defaults.Sink.WAV.Path = "out.wav"

	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, defaults))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunksize: 960")

	viper.SetConfigFile(path)
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 960, s.Stream.ChunkSize)
	assert.Equal(t, SinkWAV, s.Sink.Type)
	assert.Equal(t, "out.wav", s.Sink.WAV.Path)
	assert.Equal(t, 20*time.Millisecond, s.Stream.ReadTimeout)
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		s, err := Defaults()
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"zero queue", func(s *Settings) { s.Dispatcher.QueueSize = 0 }, "queue size"},
		{"threshold equals capacity", func(s *Settings) { s.Stream.PrefetchThreshold = s.Stream.Capacity }, "prefetch threshold"},
		{"zero threshold", func(s *Settings) { s.Stream.PrefetchThreshold = 0 }, "prefetch threshold"},
		{"chunk larger than buffer", func(s *Settings) { s.Stream.ChunkSize = s.Stream.Capacity + 1 }, "chunk size"},
		{"unknown sink", func(s *Settings) { s.Sink.Type = "alsa" }, "unknown sink type"},
		{"24 bit", func(s *Settings) { s.Sink.BitDepth = 24 }, "16-bit"},
		{"volume out of range", func(s *Settings) { s.Receiver.InitialVolume = 128 }, "initial volume"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }, "broker is required"},
		{"mqtt bad scheme", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = "http://example.com"
		}, "unsupported broker scheme"},
		{"http bad listen", func(s *Settings) {
			s.HTTP.Enabled = true
			s.HTTP.Listen = "nonsense"
		}, "invalid listen address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("maybe"))
	assert.NoError(t, validateEnvDuration("20ms"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.Error(t, validateEnvPositiveInt("0"))
	assert.NoError(t, validateEnvBrokerURL("tcp://localhost:1883"))
	assert.Error(t, validateEnvSinkType("pulse"))
	assert.Error(t, validateEnvLogLevel("verbose"))
}
