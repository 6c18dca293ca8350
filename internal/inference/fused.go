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

// CompletionScores are next-token scores for completion tokens. Scores are
// shifted behind: Scores[i, j] is the distribution that predicts
// Encodings.InputIDs[i][j].
type CompletionScores struct {
	Scores    *tensor.Scores
	Encodings *tokenizer.Batch
	Offsets   []int
}

// LogProbs returns each real completion token's log-probability.
func (c *CompletionScores) LogProbs() ([][]float64, error) {
	lps, err := logprobs.FromScores(c.Scores, c.Encodings.InputIDs, 0, 0)
	if err != nil {
		return nil, err
	}
	return logprobs.Truncate(lps, c.Encodings.Lengths())
}

// CompletionsGivenPrompts scores completions against cached prompt state.
//
// Prompt i is repeated counts[i] times and the completions are tiled repeats
// times, so row r pairs the r-th repeated prompt with completion
// r mod len(completions). Completions must already begin with whatever joins
// them to the prompt.
func CompletionsGivenPrompts(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int) (*CompletionScores, error) {
	return completionsGivenPrompts(ctx, be, prompts, completions, counts, repeats, true)
}

func completionsGivenPrompts(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int, shortcut bool) (*CompletionScores, error) {
	m, err := cachedModel(be)
	if err != nil {
		return nil, err
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
	if rows := sum(reps); rows != len(completions)*repeats {
		return nil, errdefs.InvalidInput("prompts repeat to %d rows but %d completions tiled %d times give %d", rows, len(completions), repeats, len(completions)*repeats)
	}

	enc, err := tokenizer.EncodeBatch(be.Tokenizer, completions)
	if err != nil {
		return nil, fmt.Errorf("tokenize completions: %w", err)
	}
	ps, err := Prompts(ctx, be, prompts, counts)
	if err != nil {
		return nil, err
	}
	comp := enc.Tile(repeats)
	result := &CompletionScores{Encodings: comp, Offsets: ps.Offsets}

	width := comp.Width()
	if shortcut && width == 1 {
		// Every completion is one token: its distribution is the prompt's
		// last one.
		metrics.ForwardsSkipped.Inc()
		result.Scores = ps.LastScores
		return result, nil
	}

	positions := make([][]int, comp.Len())
	for i := range positions {
		row := make([]int, width)
		for j := range row {
			row[j] = ps.Offsets[i] + j
		}
		positions[i] = row
	}
	mask, err := tensor.ConcatRows(ps.Encodings.AttentionMask, comp.AttentionMask)
	if err != nil {
		return nil, err
	}
	out, err := safeForward(ctx, m, &Step{
		InputIDs:      comp.InputIDs,
		AttentionMask: mask,
		PositionIDs:   positions,
		Past:          ps.Past,
	}, metrics.PathFast)
	if err != nil {
		return nil, fmt.Errorf("completion forward pass: %w", err)
	}
	if err := allPositions(out, width); err != nil {
		return nil, err
	}
	// The last position predicts a token past the end of the completion.
	result.Scores, err = tensor.ConcatPositions(ps.LastScores, out.Logits.SlicePositions(0, width-1))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
