package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ResidualRMS returns the root mean square of every column of res, one
// value per equation.
func ResidualRMS(res *mat.Dense) []float64 {
	r, c := res.Dims()
	out := make([]float64, c)
	if r == 0 {
		return out
	}
	col := make([]float64, r)
	for k := 0; k < c; k++ {
		mat.Col(col, k, res)
		out[k] = math.Sqrt(floats.Dot(col, col) / float64(r))
	}
	return out
}

// MeanAbs is the mean absolute value over all entries of res.
func MeanAbs(res *mat.Dense) float64 {
	r, c := res.Dims()
	if r*c == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r; i++ {
		sum += floats.Norm(res.RawRowView(i), 1)
	}
	return sum / float64(r*c)
}
