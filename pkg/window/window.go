// Package window generates the analysis/synthesis windows shared by every
// frame of a transform cycle.
package window

import (
	"fmt"
	"math"
	"sync"
)

// Hann returns a symmetric Hann window of length n:
//
//	w[i] = 0.5 - 0.5*cos(2*pi*i/(n-1))
//
// n must be at least 2.
func Hann(n int) []float64 {
	if n < 2 {
		panic(fmt.Sprintf("window: hann length must be >= 2, got %d", n))
	}
	w := make([]float64, n)
	denom := float64(n - 1)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/denom)
	}
	return w
}

// Apply writes src[i]*w[i] into dst for the first len(w) samples. Positions
// past the end of src are zero filled.
func Apply(dst []float64, src []float32, w []float64) {
	n := len(w)
	if len(dst) < n {
		panic(fmt.Sprintf("window: destination too short %d < %d", len(dst), n))
	}
	m := min(n, len(src))
	for i := 0; i < m; i++ {
		dst[i] = float64(src[i]) * w[i]
	}
	clear(dst[m:n])
}

// Cache memoizes Hann windows by length. The returned slices are shared and
// must be treated as read-only.
type Cache struct {
	mu   sync.RWMutex
	hann map[int][]float64
}

// NewCache returns an empty window cache.
func NewCache() *Cache {
	return &Cache{hann: make(map[int][]float64)}
}

// Hann returns the cached Hann window of length n, generating it on first use.
func (c *Cache) Hann(n int) []float64 {
	c.mu.RLock()
	w, ok := c.hann[n]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.hann[n]; ok {
		return w
	}
	w = Hann(n)
	c.hann[n] = w
	return w
}

var shared = NewCache()

// SharedHann returns a Hann window from the process-wide cache.
func SharedHann(n int) []float64 {
	return shared.Hann(n)
}
