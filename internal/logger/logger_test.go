package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink/internal/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", logger.Int("fill", 20480))
	log.Warn("warned", logger.Duration("timeout", 20*time.Millisecond))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "visible", lines[0]["msg"])
	assert.InDelta(t, 20480, lines[0]["fill"], 0)
	assert.Equal(t, "20ms", lines[1]["timeout"])
}

func TestModuleAndFieldAccumulation(t *testing.T) {
	buf := &bytes.Buffer{}
	base := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)

	streamLog := base.Module("stream").Module("drain").With(logger.String("session", "abc"))
	streamLog.Debug("chunk drained", logger.Int("bytes", 1440))
	base.Info("root")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "stream.drain", lines[0]["module"])
	assert.Equal(t, "abc", lines[0]["session"])
	assert.NotContains(t, lines[1], "session")
	assert.NotContains(t, lines[1], "module")
}

func TestWithContextTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "trace-1")
	log.WithContext(ctx).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "trace-1", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestErrorFieldNil(t *testing.T) {
	f := logger.Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "btsink.log")

	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"dispatch": "warn"},
	})
	require.NoError(t, err)

	cl.Module("stream").Debug("stream debug")
	cl.Module("dispatch").Info("dispatch info suppressed")
	cl.Module("dispatch").Warn("dispatch warn")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "stream debug")
	assert.NotContains(t, content, "dispatch info suppressed")
	assert.Contains(t, content, "dispatch warn")
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}
