package vectorutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, float32(2), Mean([]float32{1, 2, 3}))
	assert.Equal(t, float32(0), Mean(nil))
}

func TestSoftMax(t *testing.T) {
	scores := SoftMax([]float32{1, 2, 3})
	var sum float32
	for _, s := range scores {
		sum += s
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-6)
	assert.Greater(t, scores[2], scores[1])
	assert.Greater(t, scores[1], scores[0])
}

func TestArgMax(t *testing.T) {
	idx, value, err := ArgMax([]float32{0.1, 0.9, 0.3})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(0.9), value)

	_, _, err = ArgMax(nil)
	assert.Error(t, err)
}

func TestLogSumExp(t *testing.T) {
	got := LogSumExp([]float32{1, 1})
	assert.InDelta(t, 1+math.Log(2), got, 1e-6)
}
