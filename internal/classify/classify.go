// Package classify turns token log-probabilities into completion likelihoods
// and posterior probabilities.
package classify

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/cappr/internal/errdefs"
)

// PriorTolerance is the absolute tolerance on a prior's sum.
const PriorTolerance = 1e-6

// AggFunc reduces one completion's token log-probabilities to a scalar.
type AggFunc func([]float64) float64

// Mean is the default aggregation.
func Mean(x []float64) float64 { return stat.Mean(x, nil) }

// Sum aggregates to the completion's joint log-probability.
func Sum(x []float64) float64 { return floats.Sum(x) }

// Aggregate maps lps[i][j] to exp(fn(lps[i][j])). Rows may have different
// numbers of completions and completions different numbers of tokens.
func Aggregate(lps [][][]float64, fn AggFunc) [][]float64 {
	if fn == nil {
		fn = Mean
	}
	out := make([][]float64, len(lps))
	for i, completions := range lps {
		row := make([]float64, len(completions))
		for j, tokens := range completions {
			row[j] = math.Exp(fn(tokens))
		}
		out[i] = row
	}
	return out
}

// CheckPrior validates a prior distribution: every entry in [0, 1] and a sum
// within PriorTolerance of 1.
func CheckPrior(prior []float64) error {
	if len(prior) == 0 {
		return errdefs.InvalidInput("prior must be non-empty")
	}
	for i, p := range prior {
		if !(p >= 0 && p <= 1) {
			return errdefs.InvalidInput("prior must contain probabilities between 0 and 1, got %v at index %d", p, i)
		}
	}
	if sum := floats.Sum(prior); math.Abs(sum-1) > PriorTolerance {
		return errdefs.InvalidInput("prior must sum to 1, got %v (sum %v)", prior, sum)
	}
	return nil
}

// PosteriorVector multiplies likelihoods by prior (skipped when prior is nil)
// and, if normalize is set, rescales the result to sum to 1.
func PosteriorVector(likelihoods, prior []float64, normalize bool) ([]float64, error) {
	out := append([]float64(nil), likelihoods...)
	if prior != nil {
		if err := CheckPrior(prior); err != nil {
			return nil, err
		}
		if len(prior) != len(likelihoods) {
			return nil, errdefs.InvalidInput("prior has %d entries for %d completions", len(prior), len(likelihoods))
		}
		floats.Mul(out, prior)
	}
	if normalize {
		floats.Scale(1/floats.Sum(out), out)
	}
	return out, nil
}

// Posterior applies PosteriorVector to every row.
func Posterior(likelihoods [][]float64, prior []float64, normalize bool) ([][]float64, error) {
	out := make([][]float64, len(likelihoods))
	for i, row := range likelihoods {
		p, err := PosteriorVector(row, prior, normalize)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// PosteriorDense is Posterior for a matrix along axis 1 (rows are prompts) or
// axis 0 (columns are prompts).
func PosteriorDense(likelihoods *mat.Dense, axis int, prior []float64, normalize bool) (*mat.Dense, error) {
	if axis != 0 && axis != 1 {
		return nil, errdefs.InvalidInput("axis must be 0 or 1, got %d", axis)
	}
	src := mat.DenseCopyOf(likelihoods)
	if axis == 0 {
		src = mat.DenseCopyOf(src.T())
	}
	r, c := src.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		p, err := PosteriorVector(src.RawRowView(i), prior, normalize)
		if err != nil {
			return nil, err
		}
		out.SetRow(i, p)
	}
	if axis == 0 {
		return mat.DenseCopyOf(out.T()), nil
	}
	return out, nil
}

// Argmax returns the index of each row's largest value, first one on ties.
func Argmax(rows [][]float64) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i] = floats.MaxIdx(row)
	}
	return out
}

// Dense packs rows into a matrix when every row has the same length.
func Dense(rows [][]float64) (*mat.Dense, bool) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, false
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for _, row := range rows {
		if len(row) != c {
			return nil, false
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), c, data), true
}
