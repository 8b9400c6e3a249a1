package surrogate

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearData(n int, coef []float64, intercept float64, seed int64) ([][]float64, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	w := make([]float64, n)
	for i := range x {
		row := make([]float64, len(coef))
		y[i] = intercept
		for j := range row {
			row[j] = float64(rng.Intn(2))
			y[i] += coef[j] * row[j]
		}
		x[i] = row
		w[i] = 0.5 + rng.Float64()
	}
	return x, y, w
}

func TestFitRecoversExactLinearModel(t *testing.T) {
	coef := []float64{0.4, -0.2, 0, 0.9}
	x, y, w := linearData(200, coef, 0.1, 1)

	fit, err := FitWeightedRidge(x, y, w, 0)
	require.NoError(t, err)
	for j := range coef {
		assert.InDelta(t, coef[j], fit.Coef[j], 1e-8)
	}
	assert.InDelta(t, 0.1, fit.Intercept, 1e-8)
	assert.InDelta(t, 1, fit.Score, 1e-9)
}

func TestRidgeShrinksCoefficients(t *testing.T) {
	x, y, w := linearData(60, []float64{1, -1, 0.5}, 0, 2)

	small, err := FitWeightedRidge(x, y, w, 0.01)
	require.NoError(t, err)
	large, err := FitWeightedRidge(x, y, w, 100)
	require.NoError(t, err)

	var ns, nl float64
	for j := range small.Coef {
		ns += small.Coef[j] * small.Coef[j]
		nl += large.Coef[j] * large.Coef[j]
	}
	assert.Less(t, nl, ns)
}

func TestWeightsMatter(t *testing.T) {
	x := [][]float64{{0}, {1}, {1}}
	y := []float64{0, 1, 3}

	even, err := FitWeightedRidge(x, y, []float64{1, 1, 1}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2, even.Coef[0], 1e-9)

	skewed, err := FitWeightedRidge(x, y, []float64{1, 1, 0}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1, skewed.Coef[0], 1e-9)
}

func TestDegenerateInputs(t *testing.T) {
	cases := map[string]struct {
		x [][]float64
		y []float64
		w []float64
	}{
		"empty":       {nil, nil, nil},
		"no features": {[][]float64{{}}, []float64{1}, []float64{1}},
		"mismatch":    {[][]float64{{1}}, []float64{1, 2}, []float64{1}},
		"zero weight": {[][]float64{{1}, {0}}, []float64{1, 0}, []float64{0, 0}},
		"ragged":      {[][]float64{{1, 0}, {1}}, []float64{1, 0}, []float64{1, 1}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FitWeightedRidge(c.x, c.y, c.w, 1)
			assert.True(t, errors.Is(err, ErrDegenerate), "got %v", err)
		})
	}
}

func TestSingleSampleFitsFlatModel(t *testing.T) {
	fit, err := FitWeightedRidge([][]float64{{1, 1, 1}}, []float64{0.8}, []float64{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, fit.Coef)
	assert.InDelta(t, 0.8, fit.Intercept, 1e-12)
}

func TestKernelWeights(t *testing.T) {
	w := KernelWeights([][]float64{{1, 1, 1, 1}, {0, 0, 0, 0}, {1, 0, 1, 0}}, 0.25)
	assert.InDelta(t, 1, w[0], 1e-12)
	assert.InDelta(t, math.Exp(-8), w[1], 1e-12)

	d := 1 - 2/(math.Sqrt(2)*2)
	assert.InDelta(t, math.Sqrt(math.Exp(-d*d/0.0625)), w[2], 1e-12)
	assert.Greater(t, w[0], w[2])
	assert.Greater(t, w[2], w[1])
}
