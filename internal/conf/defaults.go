// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default streaming parameters. ChunkSize is 240 stereo S16 frames plus
// headroom, matching the pacing of the playback device.
const (
	DefaultQueueSize         = 10
	DefaultSubmitTimeout     = 10 * time.Millisecond
	DefaultShutdownTimeout   = 2 * time.Second
	DefaultMaxPayload        = 64 * 1024
	DefaultCapacity          = 32 * 1024
	DefaultPrefetchThreshold = 20 * 1024
	DefaultChunkSize         = 240 * 6
	DefaultReadTimeout       = 20 * time.Millisecond
	DefaultDelayOffset       = 50
	DefaultInitialVolume     = 0
)

// Sets default values for the configuration.
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("device.name", "BTSINK")

	v.SetDefault("dispatcher.queuesize", DefaultQueueSize)
	v.SetDefault("dispatcher.submittimeout", DefaultSubmitTimeout)
	v.SetDefault("dispatcher.shutdowntimeout", DefaultShutdownTimeout)
	v.SetDefault("dispatcher.maxpayload", DefaultMaxPayload)

	v.SetDefault("stream.capacity", DefaultCapacity)
	v.SetDefault("stream.prefetchthreshold", DefaultPrefetchThreshold)
	v.SetDefault("stream.chunksize", DefaultChunkSize)
	v.SetDefault("stream.readtimeout", DefaultReadTimeout)

	v.SetDefault("sink.type", "malgo")
	v.SetDefault("sink.device", "")
	v.SetDefault("sink.samplerate", 44100)
	v.SetDefault("sink.channels", 2)
	v.SetDefault("sink.bitdepth", 16)
	v.SetDefault("sink.softwarevolume", false)
	v.SetDefault("sink.wav.path", "capture.wav")

	v.SetDefault("source.packetsize", 512)
	v.SetDefault("source.burstsize", 4)

	v.SetDefault("receiver.delayoffset", DefaultDelayOffset)
	v.SetDefault("receiver.initialvolume", DefaultInitialVolume)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.listen", "127.0.0.1:8089")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "btsink")
	v.SetDefault("mqtt.clientid", "btsink")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.homeassistant", false)
	v.SetDefault("mqtt.discoveryprefix", "homeassistant")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/btsink.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 50)
	v.SetDefault("logging.file_output.max_age", 30)
	v.SetDefault("logging.file_output.max_rotated_files", 5)
	v.SetDefault("logging.file_output.compress", false)
}
