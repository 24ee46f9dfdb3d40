package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogReturns(t *testing.T) {
	closes := []float64{100, 110, 99}
	returns := LogReturns(closes)
	assert.Len(t, returns, 2)
	assert.InDelta(t, math.Log(1.1), returns[0], 1e-12)
	assert.InDelta(t, math.Log(99.0/110.0), returns[1], 1e-12)

	assert.Nil(t, LogReturns([]float64{100}))
	assert.Empty(t, LogReturns([]float64{100, 0, 50}))
}

func TestPearson(t *testing.T) {
	t.Run("PerfectPositive", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		y := []float64{2, 4, 6, 8}
		assert.InDelta(t, 1.0, Pearson(x, y), 1e-12)
	})

	t.Run("PerfectNegative", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		y := []float64{8, 6, 4, 2}
		assert.InDelta(t, -1.0, Pearson(x, y), 1e-12)
	})

	t.Run("TooFewSamples", func(t *testing.T) {
		assert.Equal(t, 0.0, Pearson([]float64{1, 2}, []float64{2, 4}))
	})

	t.Run("ZeroVariance", func(t *testing.T) {
		assert.Equal(t, 0.0, Pearson([]float64{5, 5, 5}, []float64{1, 2, 3}))
	})
}

func TestTrueRanges(t *testing.T) {
	high := []float64{105, 112, 108}
	low := []float64{95, 102, 101}
	close := []float64{100, 110, 104}

	ranges := TrueRanges(high, low, close)
	assert.Len(t, ranges, 3)
	assert.Equal(t, 10.0, ranges[0])
	// max(112-102, |112-100|, |102-100|) = 12
	assert.Equal(t, 12.0, ranges[1])
	// max(108-101, |108-110|, |101-110|) = 9
	assert.Equal(t, 9.0, ranges[2])
}
