// Package audio loads audio files as mono float32 samples and writes
// reconstructed signals back out as WAV.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for files no decoder handles.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Signal is a mono signal normalized to [-1, 1].
type Signal struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// IsSupported reports whether path has an extension LoadMono can decode.
func IsSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}

// LoadMono decodes an audio file and mixes it down to mono.
func LoadMono(path string) (Signal, error) {
	ext := strings.ToLower(filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	switch ext {
	case ".mp3":
		return decodeMP3(f)
	case ".wav":
		return decodeWAV(f)
	default:
		return Signal{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}
