package stft

// PaintCell sets one gain. Coordinates outside the grid are clamped to the
// nearest edge cell, the way pointer positions are clamped by an editor.
func (m *Mask) PaintCell(f, b int, v float32) {
	if m.frames == 0 || m.bins == 0 {
		return
	}
	f = min(max(f, 0), m.frames-1)
	b = min(max(b, 0), m.bins-1)
	m.gains[f*m.bins+b] = v
}

// PaintLine sets every cell on the Bresenham line from (f0, b0) to (f1, b1),
// both endpoints included.
func (m *Mask) PaintLine(f0, b0, f1, b1 int, v float32) {
	if m.frames == 0 || m.bins == 0 {
		return
	}
	f0, f1 = min(max(f0, 0), m.frames-1), min(max(f1, 0), m.frames-1)
	b0, b1 = min(max(b0, 0), m.bins-1), min(max(b1, 0), m.bins-1)

	df, db := abs(f1-f0), abs(b1-b0)
	sf, sb := 1, 1
	if f0 > f1 {
		sf = -1
	}
	if b0 > b1 {
		sb = -1
	}
	e := df - db

	f, b := f0, b0
	for {
		m.gains[f*m.bins+b] = v
		if f == f1 && b == b1 {
			return
		}
		e2 := 2 * e
		if e2 > -db {
			e -= db
			f += sf
		}
		if e2 < df {
			e += df
			b += sb
		}
	}
}

// PaintRect sets every cell with frame in [f0, f1] and bin in [b0, b1].
func (m *Mask) PaintRect(f0, b0, f1, b1 int, v float32) {
	if m.frames == 0 || m.bins == 0 {
		return
	}
	if f0 > f1 {
		f0, f1 = f1, f0
	}
	if b0 > b1 {
		b0, b1 = b1, b0
	}
	f0, f1 = max(f0, 0), min(f1, m.frames-1)
	b0, b1 = max(b0, 0), min(b1, m.bins-1)
	for f := f0; f <= f1; f++ {
		row := m.gains[f*m.bins : (f+1)*m.bins]
		for b := b0; b <= b1; b++ {
			row[b] = v
		}
	}
}

// BandMask returns a mask for g that passes bins centered in [loHz, hiHz] for
// frames starting in [fromSec, toSec]. A non-positive toSec means the end of
// the signal.
func BandMask(g Geometry, loHz, hiHz, fromSec, toSec float64) *Mask {
	m := NewMaskFor(g)
	if toSec <= 0 {
		toSec = g.DurationSec()
	}
	for f := 0; f < g.Frames; f++ {
		t := g.FrameSec(f)
		if t < fromSec || t > toSec {
			continue
		}
		row := m.Row(f)
		for b := range row {
			if hz := g.BinHz(b); hz >= loHz && hz <= hiHz {
				row[b] = 1
			}
		}
	}
	return m
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
