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

// NoCache scores the same rows as CompletionsGivenPrompts by running the model
// over each full prompt+completion text. It needs only a Batched model and
// returns each real completion token's log-probability.
func NoCache(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int) ([][]float64, error) {
	m, ok := be.Model.(Batched)
	if !ok {
		return nil, errdefs.Precondition("model %T cannot run batched forward passes", be.Model)
	}
	if len(prompts) == 0 {
		return nil, errdefs.InvalidInput("prompts must be non-empty")
	}
	if len(completions) == 0 {
		return nil, errdefs.InvalidInput("completions must be non-empty")
	}
	if repeats < 1 {
		return nil, errdefs.InvalidInput("completion repeats must be at least 1, got %d", repeats)
	}
	reps, err := counts.Expand(len(prompts))
	if err != nil {
		return nil, err
	}
	rowPrompts, err := tensor.RepeatInterleave(prompts, reps)
	if err != nil {
		return nil, err
	}
	rowCompletions := tensor.Tile(completions, repeats)
	if len(rowPrompts) != len(rowCompletions) {
		return nil, errdefs.InvalidInput("prompts repeat to %d rows but completions tile to %d", len(rowPrompts), len(rowCompletions))
	}

	promptLens := make([]int, len(prompts))
	for i, p := range prompts {
		if promptLens[i], err = tokenizer.Count(be.Tokenizer, p); err != nil {
			return nil, fmt.Errorf("tokenize prompt %d: %w", i, err)
		}
		if promptLens[i] == 0 {
			return nil, errdefs.InvalidInput("prompt %d %q has no tokens", i, p)
		}
	}
	rowPromptLens, err := tensor.RepeatInterleave(promptLens, reps)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(rowPrompts))
	for i := range texts {
		texts[i] = rowPrompts[i] + rowCompletions[i]
	}
	enc, err := tokenizer.EncodeBatch(be.Tokenizer, texts)
	if err != nil {
		return nil, fmt.Errorf("tokenize texts: %w", err)
	}
	out, err := safeForward(ctx, m, &Step{InputIDs: enc.InputIDs, AttentionMask: enc.AttentionMask}, metrics.PathNoCache)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	if err := allPositions(out, enc.Width()); err != nil {
		return nil, err
	}
	// Token p is predicted by the scores at p-1.
	lps, err := logprobs.FromScores(out.Logits, enc.InputIDs, 1, 1)
	if err != nil {
		return nil, err
	}

	lengths := enc.Lengths()
	starts := make([]int, len(lps))
	ends := make([]int, len(lps))
	for i := range lps {
		first := firstReal(enc.AttentionMask[i])
		if lengths[i] <= rowPromptLens[i] {
			return nil, errdefs.InvalidInput("completion %q adds no tokens to prompt %q", rowCompletions[i], rowPrompts[i])
		}
		starts[i] = first + rowPromptLens[i] - 1
		ends[i] = first + lengths[i] - 1
	}
	return logprobs.Slice(lps, starts, ends)
}

func firstReal(mask []int) int {
	for i, m := range mask {
		if m == 1 {
			return i
		}
	}
	return len(mask)
}
