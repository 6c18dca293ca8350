package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/cappr/internal/batch"
	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logprobs"
	"github.com/samcharles93/cappr/internal/metrics"
	"github.com/samcharles93/cappr/internal/tensor"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// TokenLogprobs returns every echoed token's log-probability for each text.
// The first token has no value. Requests carry at most batchSize texts,
// capped at MaxBatchSize.
func (c *Client) TokenLogprobs(ctx context.Context, texts []string, batchSize int) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, errdefs.InvalidInput("texts must be non-empty")
	}
	if c.gate != nil {
		est, err := EstimateCost(c.cfg.Tokenizer, texts, 0, c.cfg.PricePer1kPrompt, c.cfg.PricePer1kCompletion)
		if err != nil {
			return nil, err
		}
		if err := c.gate.Confirm(ctx, est); err != nil {
			return nil, err
		}
	}
	defer metrics.ObserveSince(metrics.PathRemote, time.Now())
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return batch.Apply(ctx, texts, batchSize, func(ctx context.Context, chunk []string) ([][]float64, error) {
		resp, err := c.complete(ctx, chunk)
		if err != nil {
			return nil, err
		}
		out := make([][]float64, len(chunk))
		for _, choice := range resp.Choices {
			if choice.Index < 0 || choice.Index >= len(chunk) {
				return nil, errdefs.Permanent("choice index %d out of range", choice.Index)
			}
			if choice.LogProbs == nil {
				return nil, errdefs.Permanent("choice %d has no logprobs", choice.Index)
			}
			row := make([]float64, len(choice.LogProbs.TokenLogprobs))
			for j, lp := range choice.LogProbs.TokenLogprobs {
				if lp == nil {
					row[j] = logprobs.NoValue()
					continue
				}
				row[j] = *lp
			}
			out[choice.Index] = row
		}
		return out, nil
	})
}

// LogProbsConditional scores each completion after each prompt. Completions
// must already begin with whatever joins them to a prompt.
func (c *Client) LogProbsConditional(ctx context.Context, prompts, completions []string, batchSize int) ([][][]float64, error) {
	if len(prompts) == 0 || len(completions) == 0 {
		return nil, errdefs.InvalidInput("prompts and completions must be non-empty")
	}
	rowPrompts, err := tensor.RepeatInterleave(prompts, constant(len(prompts), len(completions)))
	if err != nil {
		return nil, err
	}
	rowCompletions := tensor.Tile(completions, len(prompts))
	flat, err := c.conditional(ctx, rowPrompts, rowCompletions, batchSize)
	if err != nil {
		return nil, err
	}
	return batch.Constant(flat, len(completions))
}

// LogProbsConditionalPairs scores completions[i] after prompts[i].
func (c *Client) LogProbsConditionalPairs(ctx context.Context, prompts []string, completions [][]string, batchSize int) ([][][]float64, error) {
	if len(prompts) == 0 {
		return nil, errdefs.InvalidInput("prompts must be non-empty")
	}
	if len(prompts) != len(completions) {
		return nil, errdefs.InvalidInput("got %d completion lists for %d prompts", len(completions), len(prompts))
	}
	for i, c := range completions {
		if len(c) == 0 {
			return nil, errdefs.InvalidInput("prompt %d has no completions", i)
		}
	}
	sizes := batch.Sizes(completions)
	rowPrompts, err := tensor.RepeatInterleave(prompts, sizes)
	if err != nil {
		return nil, err
	}
	flat, err := c.conditional(ctx, rowPrompts, batch.Flatten(completions), batchSize)
	if err != nil {
		return nil, err
	}
	return batch.Variable(flat, sizes)
}

func (c *Client) conditional(ctx context.Context, prompts, completions []string, batchSize int) ([][]float64, error) {
	texts := make([]string, len(prompts))
	lengths := make([]int, len(prompts))
	for i := range texts {
		n, err := tokenizer.Count(c.cfg.Tokenizer, completions[i])
		if err != nil {
			return nil, fmt.Errorf("tokenize completion %q: %w", completions[i], err)
		}
		if n == 0 {
			return nil, errdefs.InvalidInput("completion %q has no tokens", completions[i])
		}
		texts[i] = prompts[i] + completions[i]
		lengths[i] = n
	}
	lps, err := c.TokenLogprobs(ctx, texts, batchSize)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(lps))
	for i, row := range lps {
		if len(row) < lengths[i] {
			return nil, errdefs.Permanent("text %d has %d token log-probs, completion needs %d", i, len(row), lengths[i])
		}
		out[i] = row[len(row)-lengths[i]:]
	}
	metrics.CountTokens(out)
	return out, nil
}

func constant(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
