package fft

import (
	"math"
	"math/rand"
	"testing"

	dspfft "github.com/mjibson/go-dsp/fft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"
)

func randomBuffers(rng *rand.Rand, n int) ([]float64, []float64) {
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = rng.Float64()*2 - 1
		im[i] = rng.Float64()*2 - 1
	}
	return re, im
}

func maxAbs(xs ...[]float64) float64 {
	m := 0.0
	for _, x := range xs {
		for _, v := range x {
			m = math.Max(m, math.Abs(v))
		}
	}
	return m
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 1024, 65536} {
		assert.True(t, IsPowerOfTwo(n), "n=%d", n)
	}
	for _, n := range []int{-4, 0, 3, 6, 1000, 4095} {
		assert.False(t, IsPowerOfTwo(n), "n=%d", n)
	}
	assert.Equal(t, 12, Log2(4096))
	assert.Panics(t, func() { Log2(12) })
}

func TestTransform_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 2; n <= 1<<16; n <<= 1 {
		re, im := randomBuffers(rng, n)
		origRe := append([]float64(nil), re...)
		origIm := append([]float64(nil), im...)

		Transform(re, im, false)
		Transform(re, im, true)

		scale := maxAbs(origRe, origIm)
		maxErr := 0.0
		for i := range re {
			maxErr = math.Max(maxErr, math.Abs(re[i]-origRe[i]))
			maxErr = math.Max(maxErr, math.Abs(im[i]-origIm[i]))
		}
		assert.LessOrEqual(t, maxErr/scale, 1e-6, "n=%d relative error %g", n, maxErr/scale)
	}
}

func TestTransform_SizeOne(t *testing.T) {
	re := []float64{3}
	im := []float64{-1}
	Transform(re, im, false)
	assert.Equal(t, []float64{3}, re)
	assert.Equal(t, []float64{-1}, im)
}

func TestBitReverse_Involution(t *testing.T) {
	for _, n := range []int{1, 2, 8, 64, 4096} {
		re := make([]float64, n)
		im := make([]float64, n)
		for i := range re {
			re[i] = float64(i)
			im[i] = -float64(i)
		}

		BitReverse(re, im)
		BitReverse(re, im)

		for i := range re {
			require.Equal(t, float64(i), re[i], "n=%d i=%d", n, i)
			require.Equal(t, -float64(i), im[i], "n=%d i=%d", n, i)
		}
	}
}

func TestBitReverse_Order(t *testing.T) {
	re := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	im := make([]float64, 8)
	BitReverse(re, im)
	assert.Equal(t, []float64{0, 4, 2, 6, 1, 5, 3, 7}, re)
}

func TestTransform_DCBin(t *testing.T) {
	const c = 0.75
	for _, n := range []int{2, 16, 1024} {
		re := make([]float64, n)
		im := make([]float64, n)
		for i := range re {
			re[i] = c
		}

		Transform(re, im, false)

		assert.InDelta(t, c*float64(n), re[0], 1e-9, "n=%d", n)
		assert.InDelta(t, 0, im[0], 1e-9, "n=%d", n)
		for k := 1; k < n; k++ {
			require.InDelta(t, 0, math.Hypot(re[k], im[k]), 1e-9, "n=%d bin=%d", n, k)
		}
	}
}

func TestTransform_MatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 512

	re, im := randomBuffers(rng, n)
	seq := make([]complex128, n)
	for i := range seq {
		seq[i] = complex(re[i], im[i])
	}

	want := fourier.NewCmplxFFT(n).Coefficients(nil, seq)
	Transform(re, im, false)

	for k := range want {
		require.InDelta(t, real(want[k]), re[k], 1e-9, "bin %d real", k)
		require.InDelta(t, imag(want[k]), im[k], 1e-9, "bin %d imag", k)
	}
}

func TestTransform_InverseMatchesGoDSP(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 256

	re, im := randomBuffers(rng, n)
	spectrum := make([]complex128, n)
	for i := range spectrum {
		spectrum[i] = complex(re[i], im[i])
	}

	want := dspfft.IFFT(spectrum)
	Transform(re, im, true)

	for i := range want {
		require.InDelta(t, real(want[i]), re[i], 1e-9, "sample %d real", i)
		require.InDelta(t, imag(want[i]), im[i], 1e-9, "sample %d imag", i)
	}
}

func TestTransform_Sinusoid(t *testing.T) {
	const n = 64
	const k = 5

	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = math.Cos(2 * math.Pi * k * float64(i) / n)
	}

	Transform(re, im, false)

	// a real cosine splits its energy between bin k and its mirror
	assert.InDelta(t, n/2, re[k], 1e-9)
	assert.InDelta(t, n/2, re[n-k], 1e-9)
	assert.InDelta(t, 0, im[k], 1e-9)
}

func TestTransform_Preconditions(t *testing.T) {
	assert.Panics(t, func() { Transform(make([]float64, 6), make([]float64, 6), false) })
	assert.Panics(t, func() { Transform(make([]float64, 8), make([]float64, 4), false) })
	assert.Panics(t, func() { Transform(nil, nil, false) })
}

func BenchmarkTransform4096(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	re, im := randomBuffers(rng, 4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Transform(re, im, false)
		Transform(re, im, true)
	}
}
