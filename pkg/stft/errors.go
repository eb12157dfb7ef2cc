package stft

import "errors"

// Configuration errors are reported before any computation starts.
var (
	ErrInvalidWinSize    = errors.New("stft: window size must be a power of two >= 2")
	ErrInvalidHop        = errors.New("stft: hop size must be in (0, winSize]")
	ErrInvalidMaxFreq    = errors.New("stft: max frequency must be in (0, sampleRate/2]")
	ErrInvalidDBRange    = errors.New("stft: dB range must be positive and finite")
	ErrInvalidSampleRate = errors.New("stft: sample rate must be positive")
)

// Shape errors are reported before resynthesis starts.
var (
	ErrMaskDimensionMismatch = errors.New("stft: mask dimensions do not match spectrogram geometry")
	ErrSignalMismatch        = errors.New("stft: signal length does not match spectrogram geometry")
	ErrGainOutOfRange        = errors.New("stft: mask gain outside [0, 1]")
)
