package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	youpywav "github.com/youpy/go-wav"
)

// WAV format tags for integer PCM.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(r io.ReadSeeker) (Signal, error) {
	decoder := wav.NewDecoder(r)
	valid := decoder.IsValidFile()
	if f := decoder.WavAudioFormat; f != 0 && f != wavFormatPCM && f != wavFormatExtensible {
		return Signal{}, fmt.Errorf("%w: WAV format tag %#x", ErrUnsupportedFormat, f)
	}
	if !valid {
		return Signal{}, errors.New("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("could not read PCM buffer: %w", err)
	}

	return Signal{Samples: mixdown(buf), SampleRate: buf.Format.SampleRate}, nil
}

// mixdown averages interleaved channels and scales by the source bit depth.
// 8-bit WAV data is unsigned and centered on 128.
func mixdown(buf *goaudio.IntBuffer) []float32 {
	channels := max(buf.Format.NumChannels, 1)
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))
	var offset float32
	if depth == 8 {
		offset = 128
	}

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c]) - offset
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}

// WriteWAV encodes samples as 16-bit mono PCM. Values outside [-1, 1] are
// clipped.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	ww := youpywav.NewWriter(w, uint32(len(samples)), 1, uint32(sampleRate), 16)

	out := make([]youpywav.Sample, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		out[i].Values[0] = int(min(max(v, -32768), 32767))
	}
	if err := ww.WriteSamples(out); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path with WriteWAV.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
