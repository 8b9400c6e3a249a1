package vit

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// matmulT computes c[n,out] = a[n,in] * w[out,in]^T.
func matmulT(a []float32, n, in int, w []float32, out int, c []float32) {
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: in, Stride: in, Data: a},
		blas32.General{Rows: out, Cols: in, Stride: in, Data: w},
		0,
		blas32.General{Rows: n, Cols: out, Stride: out, Data: c},
	)
}

func addBias(x []float32, n, d int, b []float32) {
	if b == nil {
		return
	}
	for i := 0; i < n; i++ {
		row := x[i*d : (i+1)*d]
		for j, v := range b {
			row[j] += v
		}
	}
}

// layerNorm normalizes each row of x[n,d] into dst.
func layerNorm(dst, x []float32, n, d int, gamma, beta []float32, eps float64) {
	for i := 0; i < n; i++ {
		row := x[i*d : (i+1)*d]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(d)
		var variance float64
		for _, v := range row {
			dv := float64(v) - mean
			variance += dv * dv
		}
		variance /= float64(d)
		inv := 1 / math.Sqrt(variance+eps)
		out := dst[i*d : (i+1)*d]
		for j, v := range row {
			out[j] = float32((float64(v)-mean)*inv)*gamma[j] + beta[j]
		}
	}
}

// gelu applies the exact (erf) GELU in place.
func gelu(x []float32) {
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1 + math.Erf(f/math.Sqrt2)))
	}
}

// softmaxRows applies a numerically stable softmax to each row in place.
func softmaxRows(x []float32, n, d int) {
	for i := 0; i < n; i++ {
		row := x[i*d : (i+1)*d]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - max))
			row[j] = float32(e)
			sum += e
		}
		for j := range row {
			row[j] = float32(float64(row[j]) / sum)
		}
	}
}

func addInPlace(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}
