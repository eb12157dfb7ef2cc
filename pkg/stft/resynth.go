package stft

import (
	"context"
	"fmt"

	"github.com/nzoschke/specmask/pkg/fft"
	"github.com/nzoschke/specmask/pkg/window"
)

// normEpsilon is the smallest accumulated window energy that is divided out;
// positions below it are emitted as silence.
const normEpsilon = 1e-8

// MirrorGains multiplies a full complex spectrum by the half-spectrum gains.
// Bin b in [0, N/2] is scaled by gains[b], or muted when b >= len(gains), and
// bin N-b receives the same gain so a conjugate-symmetric input stays
// conjugate-symmetric.
func MirrorGains(re, im []float64, gains []float32) {
	n := len(re)
	half := n / 2
	for b := 0; b <= half && b < n; b++ {
		g := 0.0
		if b < len(gains) {
			g = float64(gains[b])
		}
		re[b] *= g
		im[b] *= g

		if b != 0 && b != half {
			mb := n - b
			re[mb] *= g
			im[mb] *= g
		}
	}
}

// Resynthesize applies mask to the STFT of samples and reconstructs a signal
// of the same length by weighted overlap-add. The mask must have exactly the
// geometry cfg produces for samples.
func Resynthesize(samples []float32, sampleRate int, mask *Mask, cfg Config) ([]float32, error) {
	return ResynthesizeContext(context.Background(), samples, sampleRate, mask, cfg)
}

// ResynthesizeContext is Resynthesize with cancellation checked between frames.
func ResynthesizeContext(ctx context.Context, samples []float32, sampleRate int, mask *Mask, cfg Config) ([]float32, error) {
	geom, err := cfg.Geometry(len(samples), sampleRate)
	if err != nil {
		return nil, err
	}
	return resynthesize(ctx, samples, geom, mask)
}

// Resynthesize reconstructs samples, the signal s was analyzed from, through
// mask.
func (s *Spectrogram) Resynthesize(samples []float32, mask *Mask) ([]float32, error) {
	return s.ResynthesizeContext(context.Background(), samples, mask)
}

// ResynthesizeContext is Spectrogram.Resynthesize with cancellation.
func (s *Spectrogram) ResynthesizeContext(ctx context.Context, samples []float32, mask *Mask) ([]float32, error) {
	if len(samples) != s.geom.NumSamples {
		return nil, fmt.Errorf("%w: %d samples, spectrogram built from %d", ErrSignalMismatch, len(samples), s.geom.NumSamples)
	}
	return resynthesize(ctx, samples, s.geom, mask)
}

func resynthesize(ctx context.Context, samples []float32, geom Geometry, mask *Mask) ([]float32, error) {
	if !mask.Matches(geom) {
		frames, bins := -1, -1
		if mask != nil {
			frames, bins = mask.frames, mask.bins
		}
		return nil, fmt.Errorf("%w: mask %dx%d, want %dx%d",
			ErrMaskDimensionMismatch, frames, bins, geom.Frames, geom.Bins)
	}

	n := len(samples)
	acc := make([]float64, n)
	norm := make([]float64, n)

	w := window.SharedHann(geom.WinSize)
	sc := newScratch(geom.WinSize)

	for f := 0; f < geom.Frames; f++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := f * geom.HopSize
		sc.load(samples, start, w)
		MirrorGains(sc.re, sc.im, mask.Row(f))
		fft.Transform(sc.re, sc.im, true)

		end := min(n, start+geom.WinSize)
		for idx := start; idx < end; idx++ {
			wi := w[idx-start]
			acc[idx] += sc.re[idx-start] * wi
			norm[idx] += wi * wi
		}
	}

	out := make([]float32, n)
	for i, e := range norm {
		if e > normEpsilon {
			out[i] = float32(acc[i] / e)
		}
	}
	return out, nil
}
