package stft

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/nzoschke/specmask/pkg/fft"
	"github.com/nzoschke/specmask/pkg/window"
)

// magnitudeEpsilon keeps log10 finite for silent bins.
const magnitudeEpsilon = 1e-12

// SilenceDB is the dB value of a bin with zero magnitude.
var SilenceDB = 20 * math.Log10(magnitudeEpsilon)

// Analyze computes the log-magnitude spectrogram of samples.
//
// A signal shorter than one window yields a valid spectrogram with zero frames.
func Analyze(samples []float32, sampleRate int, cfg Config) (*Spectrogram, error) {
	return AnalyzeContext(context.Background(), samples, sampleRate, cfg)
}

// AnalyzeContext is Analyze with cancellation checked between frames.
func AnalyzeContext(ctx context.Context, samples []float32, sampleRate int, cfg Config) (*Spectrogram, error) {
	s, err := newSpectrogram(samples, sampleRate, cfg)
	if err != nil {
		return nil, err
	}

	w := window.SharedHann(cfg.WinSize)
	sc := newScratch(cfg.WinSize)
	maxDB, err := analyzeFrames(ctx, samples, w, s.geom, s.data, 0, s.geom.Frames, sc)
	if err != nil {
		return nil, err
	}
	s.setRange(maxDB)
	return s, nil
}

// AnalyzeParallel splits the frames into contiguous ranges processed by up to
// workers goroutines, each with its own scratch buffers. The result is
// identical to Analyze.
func AnalyzeParallel(ctx context.Context, samples []float32, sampleRate int, cfg Config, workers int) (*Spectrogram, error) {
	s, err := newSpectrogram(samples, sampleRate, cfg)
	if err != nil {
		return nil, err
	}

	frames := s.geom.Frames
	workers = max(1, min(workers, frames))
	chunk := (frames + workers - 1) / workers

	w := window.SharedHann(cfg.WinSize)
	peaks := make([]float64, workers)
	for i := range peaks {
		peaks[i] = SilenceDB
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		from := i * chunk
		to := min(frames, from+chunk)
		if from >= to {
			continue
		}
		g.Go(func() error {
			peak, err := analyzeFrames(gctx, samples, w, s.geom, s.data, from, to, newScratch(cfg.WinSize))
			peaks[i] = peak
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	maxDB := SilenceDB
	for _, p := range peaks {
		maxDB = math.Max(maxDB, p)
	}
	s.setRange(maxDB)
	return s, nil
}

func newSpectrogram(samples []float32, sampleRate int, cfg Config) (*Spectrogram, error) {
	if err := cfg.Validate(sampleRate); err != nil {
		return nil, err
	}
	geom, err := cfg.Geometry(len(samples), sampleRate)
	if err != nil {
		return nil, err
	}
	return &Spectrogram{
		geom: geom,
		cfg:  cfg,
		data: make([]float32, geom.Frames*geom.Bins),
	}, nil
}

func (s *Spectrogram) setRange(maxDB float64) {
	s.maxDB = maxDB
	s.floorDB = maxDB - s.cfg.DBRange
}

// scratch holds one frame of complex samples, reused across the frame loop.
type scratch struct {
	re, im []float64
}

func newScratch(n int) *scratch {
	return &scratch{re: make([]float64, n), im: make([]float64, n)}
}

// load windows the frame starting at start into the scratch buffers and
// transforms it to the frequency domain.
func (sc *scratch) load(samples []float32, start int, w []float64) {
	window.Apply(sc.re, samples[start:], w)
	clear(sc.im)
	fft.Transform(sc.re, sc.im, false)
}

// analyzeFrames fills rows [from, to) of data and returns their peak dB.
func analyzeFrames(ctx context.Context, samples []float32, w []float64, geom Geometry,
	data []float32, from, to int, sc *scratch) (float64, error) {
	scale := 1 / float64(geom.WinSize)
	peak := SilenceDB

	for f := from; f < to; f++ {
		if err := ctx.Err(); err != nil {
			return peak, err
		}

		sc.load(samples, f*geom.HopSize, w)

		row := data[f*geom.Bins : (f+1)*geom.Bins]
		for b := range row {
			mag := math.Hypot(sc.re[b], sc.im[b])
			db := float32(20 * math.Log10(mag*scale+magnitudeEpsilon))
			row[b] = db
			peak = math.Max(peak, float64(db))
		}
	}
	return peak, nil
}
