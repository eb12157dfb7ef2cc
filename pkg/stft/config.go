// Package stft analyzes a mono signal into a log-magnitude spectrogram and
// resynthesizes it through a user supplied time-frequency gain mask using
// weighted overlap-add.
package stft

import (
	"fmt"
	"math"

	"github.com/nzoschke/specmask/pkg/fft"
)

// Config describes the transform parameters of one analysis/resynthesis cycle.
type Config struct {
	WinSize   int     `json:"win_size" mapstructure:"win_size"`       // FFT size and window length, power of two
	HopSize   int     `json:"hop_size" mapstructure:"hop_size"`       // Samples between frame starts
	MaxFreqHz float64 `json:"max_freq_hz" mapstructure:"max_freq_hz"` // Frequency ceiling of the retained bins
	DBRange   float64 `json:"db_range" mapstructure:"db_range"`       // Dynamic range below the peak used for display
}

// DefaultConfig returns the parameters used by the mask editor.
func DefaultConfig() Config {
	return Config{
		WinSize:   4096,
		HopSize:   512,
		MaxFreqHz: 8000,
		DBRange:   80,
	}
}

// Validate checks every parameter against sampleRate.
func (c Config) Validate(sampleRate int) error {
	if err := c.validateGeometry(sampleRate); err != nil {
		return err
	}
	if !(c.DBRange > 0) || math.IsInf(c.DBRange, 1) {
		return fmt.Errorf("%w: %g", ErrInvalidDBRange, c.DBRange)
	}
	return nil
}

func (c Config) validateGeometry(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	if c.WinSize < 2 || !fft.IsPowerOfTwo(c.WinSize) {
		return fmt.Errorf("%w: %d", ErrInvalidWinSize, c.WinSize)
	}
	if c.HopSize <= 0 || c.HopSize > c.WinSize {
		return fmt.Errorf("%w: hop %d, window %d", ErrInvalidHop, c.HopSize, c.WinSize)
	}
	nyquist := float64(sampleRate) / 2
	if !(c.MaxFreqHz > 0 && c.MaxFreqHz <= nyquist) {
		return fmt.Errorf("%w: %g Hz, nyquist %g Hz", ErrInvalidMaxFreq, c.MaxFreqHz, nyquist)
	}
	return nil
}

// Geometry returns the frame/bin layout for a signal of numSamples samples.
// The dB range is not needed for geometry and is not checked.
func (c Config) Geometry(numSamples, sampleRate int) (Geometry, error) {
	if err := c.validateGeometry(sampleRate); err != nil {
		return Geometry{}, err
	}
	return Geometry{
		Frames:     NumFrames(numSamples, c.WinSize, c.HopSize),
		Bins:       NumBins(c.MaxFreqHz, sampleRate, c.WinSize),
		WinSize:    c.WinSize,
		HopSize:    c.HopSize,
		SampleRate: sampleRate,
		NumSamples: numSamples,
	}, nil
}

// NumFrames returns max(0, floor((numSamples-winSize)/hopSize)+1).
func NumFrames(numSamples, winSize, hopSize int) int {
	if numSamples < winSize {
		return 0
	}
	return (numSamples-winSize)/hopSize + 1
}

// NumBins returns the number of bins kept below maxFreqHz,
// min(winSize/2, floor(maxFreqHz/nyquist * winSize/2)).
func NumBins(maxFreqHz float64, sampleRate, winSize int) int {
	half := winSize / 2
	nyquist := float64(sampleRate) / 2
	bins := int(math.Floor(maxFreqHz / nyquist * float64(half)))
	return max(0, min(half, bins))
}

// Geometry is the frame/bin layout shared by a spectrogram, its mask and the
// resynthesizer.
type Geometry struct {
	Frames     int `json:"frames"`
	Bins       int `json:"bins"`
	WinSize    int `json:"win_size"`
	HopSize    int `json:"hop_size"`
	SampleRate int `json:"sample_rate"`
	NumSamples int `json:"num_samples"`
}

// BinHz returns the center frequency of bin b.
func (g Geometry) BinHz(b int) float64 {
	return float64(b) * float64(g.SampleRate) / float64(g.WinSize)
}

// FrameSec returns the start time of frame f in seconds.
func (g Geometry) FrameSec(f int) float64 {
	return float64(f*g.HopSize) / float64(g.SampleRate)
}

// DurationSec returns the length of the analyzed signal in seconds.
func (g Geometry) DurationSec() float64 {
	return float64(g.NumSamples) / float64(g.SampleRate)
}
