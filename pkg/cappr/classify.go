package cappr

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/samcharles93/cappr/internal/classify"
	"github.com/samcharles93/cappr/internal/errdefs"
)

// Probabilities holds one posterior vector per prompt or example.
type Probabilities struct {
	rows  [][]float64
	dense *mat.Dense
}

func newProbabilities(rows [][]float64) *Probabilities {
	p := &Probabilities{rows: rows}
	p.dense, _ = classify.Dense(rows)
	return p
}

// Rows returns the vectors. Row i has one entry per completion of prompt i.
func (p *Probabilities) Rows() [][]float64 { return p.rows }

// Matrix returns the vectors as a matrix when every prompt has the same
// number of completions.
func (p *Probabilities) Matrix() (*mat.Dense, bool) { return p.dense, p.dense != nil }

// Ragged reports whether rows differ in length.
func (p *Probabilities) Ragged() bool { return p.dense == nil }

// Argmax returns the index of the most probable completion per row, the first
// one on ties.
func (p *Probabilities) Argmax() []int { return classify.Argmax(p.rows) }

// PredictProba returns the posterior over completions for each prompt.
func PredictProba(ctx context.Context, s Scorer, prompts, completions []string, opts ...Option) (*Probabilities, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if o.prior != nil && len(o.prior) != len(completions) {
		return nil, errdefs.InvalidInput("completions and prior are different lengths: %d and %d", len(completions), len(o.prior))
	}
	lps, err := LogProbsConditional(ctx, s, prompts, completions, opts...)
	if err != nil {
		return nil, err
	}
	likelihoods, _ := classify.Dense(classify.Aggregate(lps, o.agg))
	post, err := classify.PosteriorDense(likelihoods, 1, o.prior, o.normalize)
	if err != nil {
		return nil, err
	}
	r, _ := post.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, post)
	}
	return &Probabilities{rows: rows, dense: post}, nil
}

// Predict returns the most probable completion for each prompt.
func Predict(ctx context.Context, s Scorer, prompts, completions []string, opts ...Option) ([]string, error) {
	proba, err := PredictProba(ctx, s, prompts, completions, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(prompts))
	for i, j := range proba.Argmax() {
		out[i] = completions[j]
	}
	return out, nil
}

// PredictProbaExamples returns the posterior over each example's completions,
// using the example's prior and normalization.
func PredictProbaExamples(ctx context.Context, s Scorer, examples []Example, opts ...Option) (*Probabilities, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	lps, err := LogProbsConditionalExamples(ctx, s, examples, opts...)
	if err != nil {
		return nil, err
	}
	likelihoods := classify.Aggregate(lps, o.agg)
	rows := make([][]float64, len(examples))
	for i, ex := range examples {
		if rows[i], err = classify.PosteriorVector(likelihoods[i], ex.Prior(), ex.Normalize()); err != nil {
			return nil, err
		}
	}
	return newProbabilities(rows), nil
}

// PredictExamples returns the most probable completion of each example.
func PredictExamples(ctx context.Context, s Scorer, examples []Example, opts ...Option) ([]string, error) {
	proba, err := PredictProbaExamples(ctx, s, examples, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(examples))
	for i, j := range proba.Argmax() {
		out[i] = examples[i].Completions()[j]
	}
	return out, nil
}
