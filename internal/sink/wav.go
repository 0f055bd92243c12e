package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// WAVSink records drained audio to a WAV file. Each Open starts a new file.
type WAVSink struct {
	cfg  Config
	opts options

	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	path    string
	written int64
	samples []int
}

// NewWAVSink creates a closed WAV recorder.
func NewWAVSink(cfg Config, opts ...Option) (*WAVSink, error) {
	if cfg.WAVPath == "" {
		return nil, errors.Newf("wav sink requires an output path").
			Component("sink").
			Category(errors.CategoryValidation).
			Build()
	}
	return &WAVSink{cfg: cfg, opts: buildOptions(opts)}, nil
}

// Open creates the output file. An existing file is never overwritten; a
// numbered sibling is created instead.
func (s *WAVSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return nil
	}

	if dir := filepath.Dir(s.cfg.WAVPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("sink").
				Category(errors.CategoryFileIO).
				Context("operation", "create_directory").
				Context("path", dir).
				Build()
		}
	}

	path := uniquePath(s.cfg.WAVPath)
	file, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			Context("path", path).
			Build()
	}

	s.file = file
	s.path = path
	s.written = 0
	s.encoder = wav.NewEncoder(file, s.cfg.SampleRate, s.cfg.BitDepth, s.cfg.Channels, 1)

	s.opts.logger.Info("wav recording started",
		logger.String("path", path),
		logger.Int("sample_rate", s.cfg.SampleRate),
		logger.Int("channels", s.cfg.Channels))
	return nil
}

// Write encodes p. A trailing odd byte is ignored.
func (s *WAVSink) Write(_ context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return 0, errors.Newf("wav sink not open").
			Component("sink").
			Category(errors.CategoryState).
			Build()
	}

	n := len(p) / 2
	if cap(s.samples) < n {
		s.samples = make([]int, n)
	}
	samples := s.samples[:n]

	gain := gainFor(s.cfg, s.opts)
	buf := p[:n*2]
	if gain != 1 {
		buf = make([]byte, len(buf))
		copy(buf, p)
		applyGain(buf, gain)
	}
	for i := range samples {
		samples[i] = int(int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8))
	}

	intBuf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: s.cfg.SampleRate, NumChannels: s.cfg.Channels},
		SourceBitDepth: s.cfg.BitDepth,
	}
	if err := s.encoder.Write(intBuf); err != nil {
		return 0, errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "encode_wav").
			Context("path", s.path).
			Build()
	}
	s.written += int64(len(p))
	return len(p), nil
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	path := s.path
	s.file = nil
	s.encoder = nil

	if err := errors.Join(encErr, fileErr); err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "close_wav").
			Context("path", path).
			Build()
	}

	s.opts.logger.Info("wav recording finished",
		logger.String("path", path),
		logger.Int64("bytes", s.written),
		logger.Duration("duration", s.cfg.Duration(int(s.written))))
	return nil
}

// Path returns the file of the current or last recording.
func (s *WAVSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// uniquePath returns path, or path with a numeric suffix if it exists.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
