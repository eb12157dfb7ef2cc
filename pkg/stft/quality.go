package stft

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Quality summarizes how far a reconstruction is from its reference.
type Quality struct {
	MAE         float64 // Mean absolute error
	MaxAbsError float64 // Largest absolute sample error
	RMSE        float64 // Root mean square error
	SNRDB       float64 // Reference energy over error energy, +Inf for an exact match
}

// Compare measures got against ref. Both must have the same length.
func Compare(ref, got []float32) (Quality, error) {
	if len(ref) != len(got) {
		return Quality{}, fmt.Errorf("compare: length mismatch %d != %d", len(ref), len(got))
	}
	if len(ref) == 0 {
		return Quality{}, nil
	}

	r := toFloat64(ref)
	diff := toFloat64(got)
	floats.Sub(diff, r)

	absDiff := make([]float64, len(diff))
	for i, d := range diff {
		absDiff[i] = math.Abs(d)
	}

	errEnergy := floats.Dot(diff, diff)
	q := Quality{
		MAE:         stat.Mean(absDiff, nil),
		MaxAbsError: floats.Max(absDiff),
		RMSE:        math.Sqrt(errEnergy / float64(len(diff))),
		SNRDB:       math.Inf(1),
	}
	if errEnergy > 0 {
		q.SNRDB = 10 * math.Log10(floats.Dot(r, r)/errEnergy)
	}
	return q, nil
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
