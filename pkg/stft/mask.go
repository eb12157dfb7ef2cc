package stft

import (
	"encoding/json"
	"fmt"
)

// Mask is a dense frames x bins grid of gains applied before resynthesis.
// Gains are expected in [0, 1]; values outside are passed through unchanged
// and can be detected with Validate.
type Mask struct {
	frames int
	bins   int
	gains  []float32 // frames*bins, stride bins
}

// NewMask returns a zero (fully muted) mask.
func NewMask(frames, bins int) *Mask {
	if frames < 0 || bins < 0 {
		panic(fmt.Sprintf("stft: negative mask size %dx%d", frames, bins))
	}
	return &Mask{
		frames: frames,
		bins:   bins,
		gains:  make([]float32, frames*bins),
	}
}

// NewMaskFor returns a zero mask sized for g.
func NewMaskFor(g Geometry) *Mask {
	return NewMask(g.Frames, g.Bins)
}

// Frames returns the number of frames the mask covers.
func (m *Mask) Frames() int { return m.frames }

// Bins returns the number of bins per frame.
func (m *Mask) Bins() int { return m.bins }

// Matches reports whether the mask has the dimensions of g.
func (m *Mask) Matches(g Geometry) bool {
	return m != nil && m.frames == g.Frames && m.bins == g.Bins
}

// At returns the gain of bin b in frame f.
func (m *Mask) At(f, b int) float32 {
	m.checkIndex(f, b)
	return m.gains[f*m.bins+b]
}

// Set stores the gain of bin b in frame f.
func (m *Mask) Set(f, b int, v float32) {
	m.checkIndex(f, b)
	m.gains[f*m.bins+b] = v
}

// Row returns frame f's gains. The slice aliases the mask.
func (m *Mask) Row(f int) []float32 {
	if f < 0 || f >= m.frames {
		panic(fmt.Sprintf("stft: mask frame %d out of range %d", f, m.frames))
	}
	return m.gains[f*m.bins : (f+1)*m.bins]
}

// Fill sets every gain to v.
func (m *Mask) Fill(v float32) {
	for i := range m.gains {
		m.gains[i] = v
	}
}

// Clear mutes the whole mask.
func (m *Mask) Clear() {
	clear(m.gains)
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	return &Mask{
		frames: m.frames,
		bins:   m.bins,
		gains:  append([]float32(nil), m.gains...),
	}
}

// Validate returns ErrGainOutOfRange for the first gain outside [0, 1].
func (m *Mask) Validate() error {
	for i, v := range m.gains {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: %g at frame %d bin %d", ErrGainOutOfRange, v, i/m.bins, i%m.bins)
		}
	}
	return nil
}

func (m *Mask) checkIndex(f, b int) {
	if f < 0 || f >= m.frames || b < 0 || b >= m.bins {
		panic(fmt.Sprintf("stft: mask index (%d, %d) out of range %dx%d", f, b, m.frames, m.bins))
	}
}

type maskJSON struct {
	Frames int       `json:"frames"`
	Bins   int       `json:"bins"`
	Gains  []float32 `json:"gains"`
}

// MarshalJSON encodes the mask row-major.
func (m *Mask) MarshalJSON() ([]byte, error) {
	return json.Marshal(maskJSON{Frames: m.frames, Bins: m.bins, Gains: m.gains})
}

// UnmarshalJSON decodes a mask written by MarshalJSON.
func (m *Mask) UnmarshalJSON(b []byte) error {
	var v maskJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Frames < 0 || v.Bins < 0 || len(v.Gains) != v.Frames*v.Bins {
		return fmt.Errorf("%w: %d gains for %dx%d", ErrMaskDimensionMismatch, len(v.Gains), v.Frames, v.Bins)
	}
	m.frames, m.bins, m.gains = v.Frames, v.Bins, v.Gains
	if m.gains == nil {
		m.gains = []float32{}
	}
	return nil
}
