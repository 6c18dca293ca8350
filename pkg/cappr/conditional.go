package cappr

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
)

// LogProbsConditional returns lps[i][j][k], the log-probability of token k of
// completion j given prompt i.
func LogProbsConditional(ctx context.Context, s Scorer, prompts, completions []string, opts ...Option) ([][][]float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := checkTexts("prompts", prompts); err != nil {
		return nil, err
	}
	if err := checkTexts("completions", completions); err != nil {
		return nil, err
	}
	return s.LogProbsConditional(ctx, prompts, joinCompletions(o.endOfPrompt, completions), o.batchSize)
}

// LogProbsConditionalExamples returns lps[i][j][k] for the completions of
// examples[i]. Each example uses its own end of prompt.
func LogProbsConditionalExamples(ctx context.Context, s Scorer, examples []Example, opts ...Option) ([][][]float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if len(examples) == 0 {
		return nil, errdefs.InvalidInput("examples must be non-empty")
	}
	prompts := make([]string, len(examples))
	completions := make([][]string, len(examples))
	for i, ex := range examples {
		if ex.NumCompletions() == 0 {
			return nil, errdefs.InvalidInput("example %d was not built with NewExample", i)
		}
		prompts[i] = ex.Prompt()
		completions[i] = joinCompletions(ex.EndOfPrompt(), ex.Completions())
	}
	return s.LogProbsConditionalPairs(ctx, prompts, completions, o.batchSize)
}

// TokenLogprobs returns each token's log-probability given the tokens before
// it. The first token of every text has no value and is NaN.
func TokenLogprobs(ctx context.Context, s Scorer, texts []string, opts ...Option) ([][]float64, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := checkTexts("texts", texts); err != nil {
		return nil, err
	}
	lps, err := s.TokenLogprobs(ctx, texts, o.batchSize)
	if err != nil {
		return nil, fmt.Errorf("token log-probs: %w", err)
	}
	return lps, nil
}
