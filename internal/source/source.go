// Package source reads PCM audio from files or stdin and delivers it as
// timed packets, standing in for the inbound audio link.
package source

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSecond returns the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitDepth != 16 {
		return errors.Newf("unsupported PCM format: %d Hz, %d channels, %d bit", f.SampleRate, f.Channels, f.BitDepth).
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Reader is a PCM byte stream with a known format.
type Reader interface {
	io.ReadCloser
	Format() Format
}

// GetLogger returns the source module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("source")
}

// Open opens path for playback. Files ending in .wav are decoded; anything
// else, and "-" for stdin, is read as raw S16LE in the given format.
func Open(path string, raw Format) (Reader, error) {
	if path == "-" {
		return NewRawReader(io.NopCloser(os.Stdin), raw)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryFileIO).
			Context("operation", "open_input").
			Context("path", path).
			Build()
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		r, err := NewWAVReader(file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return r, nil
	}

	r, err := NewRawReader(file, raw)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

// RawReader passes raw PCM through unchanged.
type RawReader struct {
	io.Reader
	closer io.Closer
	format Format
}

// NewRawReader wraps rc as a PCM stream in format f.
func NewRawReader(rc io.ReadCloser, f Format) (*RawReader, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &RawReader{Reader: bufio.NewReader(rc), closer: rc, format: f}, nil
}

// Format returns the stream format.
func (r *RawReader) Format() Format { return r.format }

// Close closes the underlying stream.
func (r *RawReader) Close() error { return r.closer.Close() }

// wavBlockSamples is the number of samples decoded per refill.
const wavBlockSamples = 4096

// WAVReader decodes a 16-bit WAV file into S16LE bytes.
type WAVReader struct {
	file    io.ReadSeekCloser
	decoder *wav.Decoder
	format  Format
	buf     *audio.IntBuffer
	pending []byte
	out     []byte
	eof     bool
}

// NewWAVReader reads the WAV header of file.
func NewWAVReader(file io.ReadSeekCloser) (*WAVReader, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}

	f := Format{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	return &WAVReader{
		file:    file,
		decoder: decoder,
		format:  f,
		buf: &audio.IntBuffer{
			Data:   make([]int, wavBlockSamples),
			Format: &audio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		},
		out: make([]byte, 0, 2*wavBlockSamples),
	}, nil
}

// Format returns the decoded format.
func (r *WAVReader) Format() Format { return r.format }

// Read fills p with S16LE samples.
func (r *WAVReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.refill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *WAVReader) refill() error {
	n, err := r.decoder.PCMBuffer(r.buf)
	if err != nil {
		return errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "decode_wav").
			Build()
	}
	if n == 0 {
		r.eof = true
		return nil
	}
	out := r.out[:2*n]
	for i, s := range r.buf.Data[:n] {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	r.pending = out
	return nil
}

// Close closes the file.
func (r *WAVReader) Close() error { return r.file.Close() }
