// Package logprobs turns next-token scores into log-probabilities of the
// tokens that were actually observed.
package logprobs

import (
	"fmt"
	"math"

	"github.com/samcharles93/cappr/internal/tensor"
)

// NoValue marks a token with no log-probability, which is the first token of
// a sequence scored without any preceding context.
func NoValue() float64 { return math.NaN() }

// IsNoValue reports whether v is the NoValue marker.
func IsNoValue(v float64) bool { return math.IsNaN(v) }

// FromScores returns, for each row i and position j, the log-softmax of
// scores[i, j] evaluated at ids[i][j+idsStart]. The last scoresTrim positions
// of scores are ignored. After the shift, scores and ids must agree on the
// number of rows and positions.
func FromScores(scores *tensor.Scores, ids [][]int, idsStart, scoresTrim int) ([][]float64, error) {
	if idsStart < 0 || scoresTrim < 0 || scoresTrim > scores.Positions {
		return nil, fmt.Errorf("%w: bad shift (ids start %d, scores trim %d)", tensor.ErrShape, idsStart, scoresTrim)
	}
	if len(ids) != scores.Rows {
		return nil, fmt.Errorf("%w: %d id rows for scores of shape %v", tensor.ErrShape, len(ids), scores.Shape())
	}
	positions := scores.Positions - scoresTrim
	out := make([][]float64, len(ids))
	for i, row := range ids {
		if len(row)-idsStart != positions {
			return nil, fmt.Errorf("%w: row %d has %d ids after shift %d, scores have %d positions after trim %d",
				tensor.ErrShape, i, len(row), idsStart, positions, scoresTrim)
		}
		lps := make([]float64, positions)
		for j := range positions {
			dist := scores.At(i, j)
			id := row[j+idsStart]
			if id < 0 || id >= len(dist) {
				return nil, fmt.Errorf("%w: token id %d outside vocabulary of %d", tensor.ErrShape, id, len(dist))
			}
			lps[j] = float64(dist[id]) - tensor.LogSumExp(dist)
		}
		out[i] = lps
	}
	return out, nil
}

// Truncate keeps the first lengths[i] values of row i, dropping padding.
func Truncate(lps [][]float64, lengths []int) ([][]float64, error) {
	if len(lps) != len(lengths) {
		return nil, fmt.Errorf("%w: %d rows for %d lengths", tensor.ErrShape, len(lps), len(lengths))
	}
	out := make([][]float64, len(lps))
	for i, row := range lps {
		if lengths[i] > len(row) || lengths[i] < 0 {
			return nil, fmt.Errorf("%w: length %d for row of %d", tensor.ErrShape, lengths[i], len(row))
		}
		out[i] = row[:lengths[i]:lengths[i]]
	}
	return out, nil
}

// Slice keeps values [starts[i], ends[i]) of row i.
func Slice(lps [][]float64, starts, ends []int) ([][]float64, error) {
	if len(lps) != len(starts) || len(lps) != len(ends) {
		return nil, fmt.Errorf("%w: %d rows for %d starts and %d ends", tensor.ErrShape, len(lps), len(starts), len(ends))
	}
	out := make([][]float64, len(lps))
	for i, row := range lps {
		s, e := starts[i], ends[i]
		if s < 0 || e > len(row) || s > e {
			return nil, fmt.Errorf("%w: slice [%d:%d] of row with %d values", tensor.ErrShape, s, e, len(row))
		}
		out[i] = row[s:e:e]
	}
	return out, nil
}

// WithNoValue prefixes every row with NoValue.
func WithNoValue(lps [][]float64) [][]float64 {
	out := make([][]float64, len(lps))
	for i, row := range lps {
		out[i] = append([]float64{NoValue()}, row...)
	}
	return out
}

// HasNaN reports whether any score is NaN.
func HasNaN(x []float32) bool {
	for _, v := range x {
		if v != v {
			return true
		}
	}
	return false
}
