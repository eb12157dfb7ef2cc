// Package analysis produces spectrogram and waveform sidecars for audio files.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nzoschke/specmask/pkg/audio"
	"github.com/nzoschke/specmask/pkg/stft"
)

// WaveformPixelsPerSec is the overview resolution written to sidecars.
const WaveformPixelsPerSec = 100

// TrackAnalysis represents the JSON sidecar for a track.
type TrackAnalysis struct {
	File        string            `json:"file"`
	Duration    float64           `json:"duration"`
	SampleRate  int               `json:"sample_rate"`
	Spectrogram *stft.Spectrogram `json:"spectrogram"`
	Waveform    *Waveform         `json:"waveform,omitempty"`
}

// Waveform contains downsampled waveform data for visualization.
type Waveform struct {
	PixelsPerSec int       `json:"pixels_per_sec"`
	Peaks        []float64 `json:"peaks"`
	Troughs      []float64 `json:"troughs"`
}

// Summary counts the outcome of a directory run.
type Summary struct {
	Analyzed int
	Skipped  int
	Failed   int
}

// Analyzer runs the STFT analysis over files and directories.
type Analyzer struct {
	cfg     stft.Config
	workers int
	log     *zap.Logger
}

// New creates an Analyzer. workers bounds both the frames analyzed in
// parallel for one file and the files analyzed in parallel for a directory.
func New(cfg stft.Config, workers int, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, workers: max(1, workers), log: log}
}

// AnalyzeFile analyzes a single audio file.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*TrackAnalysis, error) {
	return a.analyzeFile(ctx, path, a.workers)
}

func (a *Analyzer) analyzeFile(ctx context.Context, path string, workers int) (*TrackAnalysis, error) {
	sig, err := audio.LoadMono(path)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}

	spec, err := stft.AnalyzeParallel(ctx, sig.Samples, sig.SampleRate, a.cfg, workers)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filepath.Base(path), err)
	}

	result := &TrackAnalysis{
		File:        filepath.Base(path),
		Duration:    sig.Duration(),
		SampleRate:  sig.SampleRate,
		Spectrogram: spec,
	}

	waveform, err := GenerateWaveform(sig.Samples, sig.SampleRate, WaveformPixelsPerSec)
	if err != nil {
		a.log.Warn("could not generate waveform", zap.String("file", path), zap.Error(err))
	} else {
		result.Waveform = waveform
	}

	return result, nil
}

// GenerateWaveform creates downsampled waveform data for visualization.
// pixelsPerSec controls the resolution (e.g., 100 = 100 data points per second).
func GenerateWaveform(samples []float32, sampleRate, pixelsPerSec int) (*Waveform, error) {
	if sampleRate <= 0 || pixelsPerSec <= 0 {
		return nil, fmt.Errorf("invalid waveform rate: %d Hz at %d px/sec", sampleRate, pixelsPerSec)
	}

	samplesPerPixel := max(1, sampleRate/pixelsPerSec)

	numPixels := len(samples) / samplesPerPixel
	if numPixels == 0 {
		return nil, fmt.Errorf("audio too short")
	}

	peaks := make([]float64, numPixels)
	troughs := make([]float64, numPixels)

	for i := range numPixels {
		start := i * samplesPerPixel
		end := start + samplesPerPixel

		maxVal := float32(-1.0)
		minVal := float32(1.0)
		for _, s := range samples[start:end] {
			maxVal = max(maxVal, s)
			minVal = min(minVal, s)
		}

		peaks[i] = float64(maxVal)
		troughs[i] = float64(minVal)
	}

	return &Waveform{
		PixelsPerSec: pixelsPerSec,
		Peaks:        peaks,
		Troughs:      troughs,
	}, nil
}

// SidecarPath returns the JSON path written next to an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// AnalyzeDir recursively analyzes all audio files in a directory, up to
// workers files at a time. For each audio file, it creates a corresponding
// .json sidecar file. If force is true, existing JSON files are overwritten.
// Files that fail to decode are logged and counted, not returned as errors.
func (a *Analyzer) AnalyzeDir(ctx context.Context, dir string, force bool) (Summary, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && audio.IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk %s: %w", dir, err)
	}

	var analyzed, skipped, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, path := range files {
		jsonPath := SidecarPath(path)
		if !force {
			if _, err := os.Stat(jsonPath); err == nil {
				a.log.Info("skipping, already analyzed", zap.String("file", filepath.Base(path)))
				skipped.Add(1)
				continue
			}
		}

		g.Go(func() error {
			log := a.log.With(zap.String("file", filepath.Base(path)))
			log.Info("analyzing")

			ta, err := a.analyzeFile(ctx, path, 1)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				log.Error("analysis failed", zap.Error(err))
				failed.Add(1)
				return nil
			}

			if err := ta.WriteJSON(jsonPath); err != nil {
				return fmt.Errorf("write JSON: %w", err)
			}

			log.Info("analyzed",
				zap.Float64("duration", ta.Duration),
				zap.Int("frames", ta.Spectrogram.Frames()),
				zap.Int("bins", ta.Spectrogram.Bins()),
				zap.Float64("max_db", ta.Spectrogram.MaxDB()))
			analyzed.Add(1)
			return nil
		})
	}

	err = g.Wait()
	return Summary{
		Analyzed: int(analyzed.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}, err
}

// ReadJSON loads a sidecar written by WriteJSON.
func ReadJSON(path string) (*TrackAnalysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ta := &TrackAnalysis{}
	if err := json.Unmarshal(data, ta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ta, nil
}

// WriteJSON writes the analysis to a JSON file.
func (ta *TrackAnalysis) WriteJSON(path string) error {
	data, err := json.MarshalIndent(ta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
