package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logprobs"
	"github.com/samcharles93/cappr/internal/metrics"
	"github.com/samcharles93/cappr/internal/tensor"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// SequentialPrompt scores completions against one prompt on a model that
// holds a single sequence. The prompt is evaluated once; after each
// completion the model is truncated back to the prompt.
func SequentialPrompt(ctx context.Context, m Sequential, tok tokenizer.Tokenizer, prompt string, completions []string) ([][]float64, error) {
	if len(completions) == 0 {
		return nil, errdefs.InvalidInput("completions must be non-empty")
	}
	promptIDs, err := tok.Encode(prompt)
	if err != nil {
		return nil, fmt.Errorf("tokenize prompt: %w", err)
	}
	if len(promptIDs) == 0 {
		return nil, errdefs.InvalidInput("prompt %q has no tokens", prompt)
	}
	compIDs := make([][]int, len(completions))
	single := true
	for i, c := range completions {
		if compIDs[i], err = tok.Encode(c); err != nil {
			return nil, fmt.Errorf("tokenize completion %d: %w", i, err)
		}
		if len(compIDs[i]) == 0 {
			return nil, errdefs.InvalidInput("completion %d %q has no tokens", i, c)
		}
		single = single && len(compIDs[i]) == 1
	}

	m.Reset()
	defer m.Reset()
	if err := evalSeq(ctx, m, promptIDs); err != nil {
		return nil, err
	}
	nPrompt := m.NumTokens()

	if single {
		metrics.ForwardsSkipped.Inc()
		logits, err := checkedLogits(m)
		if err != nil {
			return nil, err
		}
		last := logits.Row(logits.R - 1)
		lse := tensor.LogSumExp(last)
		out := make([][]float64, len(compIDs))
		for i, ids := range compIDs {
			out[i] = []float64{float64(last[ids[0]]) - lse}
		}
		return out, nil
	}

	out := make([][]float64, len(compIDs))
	for i, ids := range compIDs {
		if err := evalSeq(ctx, m, ids); err != nil {
			return nil, err
		}
		logits, err := checkedLogits(m)
		if err != nil {
			return nil, err
		}
		// Rows nPrompt-1 .. end-1 predict the completion tokens.
		scores := &tensor.Scores{
			Rows:      1,
			Positions: len(ids),
			Width:     logits.C,
			Data:      logits.Data[(nPrompt-1)*logits.C : (nPrompt-1+len(ids))*logits.C],
		}
		lps, err := logprobs.FromScores(scores, [][]int{ids}, 0, 0)
		if err != nil {
			return nil, err
		}
		out[i] = lps[0]
		m.Truncate(nPrompt)
	}
	return out, nil
}

// SequentialTokens returns each token's log-probability given the tokens
// before it. The first token of every text gets logprobs.NoValue.
func SequentialTokens(ctx context.Context, m Sequential, tok tokenizer.Tokenizer, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	defer m.Reset()
	for i, text := range texts {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		if len(ids) == 0 {
			return nil, errdefs.InvalidInput("text %d %q has no tokens", i, text)
		}
		m.Reset()
		if err := evalSeq(ctx, m, ids); err != nil {
			return nil, err
		}
		logits, err := checkedLogits(m)
		if err != nil {
			return nil, err
		}
		scores := &tensor.Scores{Rows: 1, Positions: logits.R, Width: logits.C, Data: logits.Data}
		lps, err := logprobs.FromScores(scores, [][]int{ids}, 1, 1)
		if err != nil {
			return nil, err
		}
		out[i] = logprobs.WithNoValue(lps)[0]
	}
	return out, nil
}

func evalSeq(ctx context.Context, m Sequential, ids []int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in Eval: %v", errdefs.ErrPermanent, rec)
		}
	}()
	metrics.ForwardPasses.WithLabelValues(metrics.PathSequential).Inc()
	if err := m.Eval(ctx, ids); err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	return nil
}

func checkedLogits(m Sequential) (*tensor.Mat, error) {
	logits := m.Logits()
	if logits.R != m.NumTokens() {
		return nil, errdefs.Precondition("model kept logits for %d of %d tokens; it must keep logits for every token", logits.R, m.NumTokens())
	}
	if logprobs.HasNaN(logits.Data) {
		return nil, fmt.Errorf("%w: this can happen when a model is reloaded many times in one process", errdefs.ErrNaNLogits)
	}
	return logits, nil
}
