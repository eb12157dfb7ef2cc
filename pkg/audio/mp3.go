package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Additional samples that go-mp3 produces compared to browser decoders.
// Measured: browser first transient at 48446, go-mp3 at 50735, LAME header
// said 1365, so go-mp3 adds 50735 - 48446 - 1365 = 924 samples.
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// lameEncoderDelay reads the encoder delay from a LAME/Xing header in the
// first bytes of an MP3 stream.
func lameEncoderDelay(head []byte) int {
	if len(head) < 200 {
		return defaultEncoderDelay
	}

	lameIdx := bytes.Index(head, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	// 3 bytes at offset 21: 12 bits of delay then 12 bits of padding
	off := lameIdx + 21
	if off+3 > len(head) {
		return defaultEncoderDelay
	}
	b := head[off : off+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	if delay > 4096 {
		return defaultEncoderDelay
	}
	return delay
}

// decodeMP3 decodes r and skips the encoder and decoder delay so sample 0
// lines up with what a browser plays.
func decodeMP3(r io.ReadSeeker) (Signal, error) {
	head := make([]byte, 4096)
	n, _ := io.ReadFull(r, head)
	delay := lameEncoderDelay(head[:n]) + goMP3DecoderDelay

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Signal{}, fmt.Errorf("failed to rewind: %w", err)
	}

	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// 16-bit signed stereo interleaved
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to decode MP3: %w", err)
	}

	samples := make([]float32, len(pcm)/4)
	for i := range samples {
		off := i * 4
		left := int16(binary.LittleEndian.Uint16(pcm[off:]))
		right := int16(binary.LittleEndian.Uint16(pcm[off+2:]))
		samples[i] = (float32(left) + float32(right)) / 2 / 32768
	}

	if len(samples) > delay {
		samples = samples[delay:]
	}

	return Signal{Samples: samples, SampleRate: decoder.SampleRate()}, nil
}
