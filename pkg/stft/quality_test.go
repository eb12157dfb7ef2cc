package stft

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	q, err := Compare([]float32{1, -1, 1, -1}, []float32{1, -1, 1, -1})
	require.NoError(t, err)
	assert.Zero(t, q.MAE)
	assert.True(t, math.IsInf(q.SNRDB, 1))

	q, err = Compare([]float32{1, -1, 1, -1}, []float32{0.9, -1, 1, -0.7})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, q.MAE, 1e-6)
	assert.InDelta(t, 0.3, q.MaxAbsError, 1e-6)
	assert.InDelta(t, math.Sqrt((0.01+0.09)/4), q.RMSE, 1e-6)
	assert.InDelta(t, 10*math.Log10(4/0.1), q.SNRDB, 1e-4)

	_, err = Compare([]float32{1}, nil)
	assert.Error(t, err)

	q, err = Compare(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Quality{}, q)
}
