package stft

import (
	"encoding/json"
	"fmt"
)

// Spectrogram is an immutable frames x bins grid of log-magnitudes in dB.
type Spectrogram struct {
	geom    Geometry
	cfg     Config
	maxDB   float64
	floorDB float64
	data    []float32 // frames*bins, stride bins
}

// Geometry returns the frame/bin layout the spectrogram was computed with.
func (s *Spectrogram) Geometry() Geometry { return s.geom }

// Frames returns the number of analysis frames.
func (s *Spectrogram) Frames() int { return s.geom.Frames }

// Bins returns the number of frequency bins kept per frame.
func (s *Spectrogram) Bins() int { return s.geom.Bins }

// WinSize returns the FFT size.
func (s *Spectrogram) WinSize() int { return s.geom.WinSize }

// HopSize returns the samples between frame starts.
func (s *Spectrogram) HopSize() int { return s.geom.HopSize }

// SampleRate returns the sample rate of the analyzed signal.
func (s *Spectrogram) SampleRate() int { return s.geom.SampleRate }

// DurationSec returns the length of the analyzed signal in seconds.
func (s *Spectrogram) DurationSec() float64 { return s.geom.DurationSec() }

// MaxDB is the loudest bin over the whole grid.
func (s *Spectrogram) MaxDB() float64 { return s.maxDB }

// FloorDB is MaxDB minus the configured dynamic range. Grid values below it
// are kept as computed; clamping is left to the renderer.
func (s *Spectrogram) FloorDB() float64 { return s.floorDB }

// At returns the dB value of bin b in frame f.
func (s *Spectrogram) At(f, b int) float64 {
	s.checkIndex(f, b)
	return float64(s.data[f*s.geom.Bins+b])
}

// Row returns a copy of frame f.
func (s *Spectrogram) Row(f int) []float32 {
	if f < 0 || f >= s.geom.Frames {
		panic(fmt.Sprintf("stft: frame %d out of range %d", f, s.geom.Frames))
	}
	bins := s.geom.Bins
	return append([]float32(nil), s.data[f*bins:(f+1)*bins]...)
}

// Config returns the parameters the spectrogram was analyzed with.
func (s *Spectrogram) Config() Config { return s.cfg }

func (s *Spectrogram) checkIndex(f, b int) {
	if f < 0 || f >= s.geom.Frames || b < 0 || b >= s.geom.Bins {
		panic(fmt.Sprintf("stft: index (%d, %d) out of range %dx%d", f, b, s.geom.Frames, s.geom.Bins))
	}
}

type spectrogramJSON struct {
	Geometry
	MaxFreqHz   float64   `json:"max_freq_hz"`
	DBRange     float64   `json:"db_range"`
	DurationSec float64   `json:"duration_sec"`
	MaxDB       float64   `json:"max_db"`
	FloorDB     float64   `json:"floor_db"`
	Data        []float32 `json:"data"`
}

// MarshalJSON encodes the grid row-major alongside its metadata.
func (s *Spectrogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(spectrogramJSON{
		Geometry:    s.geom,
		MaxFreqHz:   s.cfg.MaxFreqHz,
		DBRange:     s.cfg.DBRange,
		DurationSec: s.DurationSec(),
		MaxDB:       s.maxDB,
		FloorDB:     s.floorDB,
		Data:        s.data,
	})
}

// UnmarshalJSON decodes a spectrogram written by MarshalJSON.
func (s *Spectrogram) UnmarshalJSON(b []byte) error {
	var v spectrogramJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v.Data) != v.Frames*v.Bins {
		return fmt.Errorf("stft: spectrogram data has %d values, want %dx%d", len(v.Data), v.Frames, v.Bins)
	}
	*s = Spectrogram{
		geom: v.Geometry,
		cfg: Config{
			WinSize:   v.WinSize,
			HopSize:   v.HopSize,
			MaxFreqHz: v.MaxFreqHz,
			DBRange:   v.DBRange,
		},
		maxDB:   v.MaxDB,
		floorDB: v.FloorDB,
		data:    v.Data,
	}
	return nil
}
