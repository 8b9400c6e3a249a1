// Package surrogate fits the local linear model used to attribute a
// prediction to image regions.
package surrogate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when the data cannot support a fit.
var ErrDegenerate = errors.New("surrogate: degenerate regression problem")

// Fit is a weighted ridge regression result.
type Fit struct {
	Intercept float64
	Coef      []float64
	// Score is the weighted R² on the training samples.
	Score float64
}

// Predict evaluates the fitted model on one feature row.
func (f *Fit) Predict(x []float64) float64 {
	v := f.Intercept
	for i, c := range f.Coef {
		v += c * x[i]
	}
	return v
}

// FitWeightedRidge minimizes Σ wᵢ(yᵢ - b - xᵢ·β)² + alpha‖β‖² with an
// unpenalized intercept. Features and target are centered on their weighted
// means so the intercept drops out of the normal equations.
func FitWeightedRidge(x [][]float64, y, w []float64, alpha float64) (*Fit, error) {
	n := len(x)
	if n == 0 || len(y) != n || len(w) != n {
		return nil, fmt.Errorf("%w: %d rows, %d targets, %d weights", ErrDegenerate, n, len(y), len(w))
	}
	p := len(x[0])
	if p == 0 {
		return nil, fmt.Errorf("%w: no features", ErrDegenerate)
	}
	if alpha < 0 {
		return nil, fmt.Errorf("surrogate: negative alpha %v", alpha)
	}

	var wsum float64
	for _, v := range w {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: invalid weight %v", ErrDegenerate, v)
		}
		wsum += v
	}
	if wsum == 0 {
		return nil, fmt.Errorf("%w: zero total weight", ErrDegenerate)
	}

	xmean := make([]float64, p)
	var ymean float64
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDegenerate, i, len(row), p)
		}
		for j, v := range row {
			xmean[j] += w[i] * v
		}
		ymean += w[i] * y[i]
	}
	for j := range xmean {
		xmean[j] /= wsum
	}
	ymean /= wsum

	// rows scaled by sqrt(w) turn the weighted problem into an ordinary one
	xs := mat.NewDense(n, p, nil)
	ys := mat.NewVecDense(n, nil)
	for i, row := range x {
		sw := math.Sqrt(w[i])
		for j, v := range row {
			xs.Set(i, j, sw*(v-xmean[j]))
		}
		ys.SetVec(i, sw*(y[i]-ymean))
	}

	var gram mat.Dense
	gram.Mul(xs.T(), xs)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xs.T(), ys)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	fit := &Fit{Coef: make([]float64, p)}
	fit.Intercept = ymean
	for j := 0; j < p; j++ {
		c := beta.AtVec(j)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrDegenerate)
		}
		fit.Coef[j] = c
		fit.Intercept -= c * xmean[j]
	}
	fit.Score = weightedR2(fit, x, y, w, ymean)
	return fit, nil
}

func weightedR2(f *Fit, x [][]float64, y, w []float64, ymean float64) float64 {
	var ssRes, ssTot float64
	for i, row := range x {
		r := y[i] - f.Predict(row)
		ssRes += w[i] * r * r
		d := y[i] - ymean
		ssTot += w[i] * d * d
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// CosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func CosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// KernelWeights weights each perturbation row by its proximity to the
// unperturbed (all-ones) row: sqrt(exp(-d²/width²)) with d the cosine
// distance.
func KernelWeights(rows [][]float64, width float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		ones := make([]float64, len(row))
		for j := range ones {
			ones[j] = 1
		}
		d := CosineDistance(row, ones)
		out[i] = math.Sqrt(math.Exp(-d * d / (width * width)))
	}
	return out
}
