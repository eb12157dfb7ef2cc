// Package fft provides an in-place radix-2 Cooley-Tukey transform over
// parallel real and imaginary buffers.
package fft

import (
	"fmt"
	"math"
	"math/bits"
)

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns log2(n) for a power of two n.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		panic(fmt.Sprintf("fft: log2 of non power of two %d", n))
	}
	return bits.TrailingZeros(uint(n))
}

// Transform computes the discrete Fourier transform of re + i·im in place.
// The inverse transform is scaled by 1/N so Transform(x, true) undoes
// Transform(x, false).
//
// len(re) and len(im) must be equal and a power of two; anything else panics.
// Transform never allocates.
func Transform(re, im []float64, inverse bool) {
	n := len(re)
	if len(im) != n {
		panic(fmt.Sprintf("fft: real/imag length mismatch %d != %d", n, len(im)))
	}
	if !IsPowerOfTwo(n) {
		panic(fmt.Sprintf("fft: length %d is not a power of two", n))
	}

	BitReverse(re, im)

	sign := -2.0
	if inverse {
		sign = 2.0
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := sign * math.Pi / float64(size)
		stepRe, stepIm := math.Cos(angle), math.Sin(angle)

		for start := 0; start < n; start += size {
			wRe, wIm := 1.0, 0.0
			for j := 0; j < half; j++ {
				a := start + j
				b := a + half

				vRe := re[b]*wRe - im[b]*wIm
				vIm := re[b]*wIm + im[b]*wRe
				uRe, uIm := re[a], im[a]

				re[a], im[a] = uRe+vRe, uIm+vIm
				re[b], im[b] = uRe-vRe, uIm-vIm

				// rotate the twiddle by one step
				wRe, wIm = wRe*stepRe-wIm*stepIm, wRe*stepIm+wIm*stepRe
			}
		}
	}

	if inverse {
		scale := 1 / float64(n)
		for i := range re {
			re[i] *= scale
			im[i] *= scale
		}
	}
}

// BitReverse reorders re and im into bit-reversed index order. Each unordered
// pair is swapped exactly once, so applying it twice restores the input.
func BitReverse(re, im []float64) {
	n := len(re)
	if len(im) != n {
		panic(fmt.Sprintf("fft: real/imag length mismatch %d != %d", n, len(im)))
	}

	j := 0
	for i := 1; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit

		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
}
