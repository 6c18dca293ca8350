package inference

import (
	"context"
	"time"

	"github.com/samcharles93/cappr/internal/batch"
	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/internal/logprobs"
	"github.com/samcharles93/cappr/internal/metrics"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// Path names the scoring strategy a backend gets.
func Path(m Model) (string, error) {
	switch m.(type) {
	case Cached:
		return metrics.PathFast, nil
	case Batched:
		return metrics.PathNoCache, nil
	case Sequential:
		return metrics.PathSequential, nil
	default:
		return "", errdefs.Precondition("model %T is neither Batched nor Sequential", m)
	}
}

// rowsFunc scores the rows of a (prompts x completions) layout, as
// CompletionsGivenPrompts and NoCache do.
type rowsFunc func(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int) ([][]float64, error)

func fastRows(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int) ([][]float64, error) {
	cs, err := CompletionsGivenPrompts(ctx, be, prompts, completions, counts, repeats)
	if err != nil {
		return nil, err
	}
	return cs.LogProbs()
}

func checkTexts(name string, texts []string) error {
	if len(texts) == 0 {
		return errdefs.InvalidInput("%s must be non-empty", name)
	}
	return nil
}

// LogProbsConditional scores every completion against every prompt and
// returns lps[prompt][completion][token]. Completions must already begin with
// the string that joins them to a prompt. Prompts are processed batchSize at
// a time.
func LogProbsConditional(ctx context.Context, be Backend, prompts, completions []string, batchSize int) ([][][]float64, error) {
	if err := checkTexts("prompts", prompts); err != nil {
		return nil, err
	}
	if err := checkTexts("completions", completions); err != nil {
		return nil, err
	}
	path, err := Path(be.Model)
	if err != nil {
		return nil, err
	}
	defer metrics.ObserveSince(path, time.Now())
	logger.FromContext(ctx).Debug("scoring completions", "path", path, "prompts", len(prompts), "completions", len(completions))

	var out [][][]float64
	err = scoring(be, func() error {
		var err error
		out, err = batch.Apply(ctx, prompts, batchSize, func(ctx context.Context, chunk []string) ([][][]float64, error) {
			if seq, ok := be.Model.(Sequential); ok && path == metrics.PathSequential {
				return sequentialChunk(ctx, seq, be.Tokenizer, chunk, func(int) []string { return completions })
			}
			var rows rowsFunc = NoCache
			if path == metrics.PathFast {
				rows = fastRows
			}
			lps, err := rows(ctx, be, chunk, completions, Constant(len(completions)), len(chunk))
			if err != nil {
				return nil, err
			}
			metrics.CountTokens(lps)
			return batch.Constant(lps, len(completions))
		})
		return err
	})
	return out, err
}

// LogProbsConditionalPairs is LogProbsConditional where prompt i has its own
// completions[i].
func LogProbsConditionalPairs(ctx context.Context, be Backend, prompts []string, completions [][]string, batchSize int) ([][][]float64, error) {
	if err := checkTexts("prompts", prompts); err != nil {
		return nil, err
	}
	if len(completions) != len(prompts) {
		return nil, errdefs.InvalidInput("got %d completion lists for %d prompts", len(completions), len(prompts))
	}
	for i, c := range completions {
		if len(c) == 0 {
			return nil, errdefs.InvalidInput("prompt %d has no completions", i)
		}
	}
	path, err := Path(be.Model)
	if err != nil {
		return nil, err
	}
	defer metrics.ObserveSince(path, time.Now())

	idx := make([]int, len(prompts))
	for i := range idx {
		idx[i] = i
	}
	var out [][][]float64
	err = scoring(be, func() error {
		var err error
		out, err = batch.Apply(ctx, idx, batchSize, func(ctx context.Context, chunk []int) ([][][]float64, error) {
			chunkPrompts := make([]string, len(chunk))
			chunkCompletions := make([][]string, len(chunk))
			for i, k := range chunk {
				chunkPrompts[i] = prompts[k]
				chunkCompletions[i] = completions[k]
			}
			if seq, ok := be.Model.(Sequential); ok && path == metrics.PathSequential {
				return sequentialChunk(ctx, seq, be.Tokenizer, chunkPrompts, func(i int) []string { return chunkCompletions[i] })
			}
			var rows rowsFunc = NoCache
			if path == metrics.PathFast {
				rows = fastRows
			}
			sizes := batch.Sizes(chunkCompletions)
			lps, err := rows(ctx, be, chunkPrompts, batch.Flatten(chunkCompletions), PerPrompt(sizes), 1)
			if err != nil {
				return nil, err
			}
			metrics.CountTokens(lps)
			return batch.Variable(lps, sizes)
		})
		return err
	})
	return out, err
}

func sequentialChunk(ctx context.Context, m Sequential, tok tokenizer.Tokenizer, prompts []string, completions func(int) []string) ([][][]float64, error) {
	out := make([][][]float64, len(prompts))
	for i, p := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lps, err := SequentialPrompt(ctx, m, tok, p, completions(i))
		if err != nil {
			return nil, err
		}
		metrics.CountTokens(lps)
		out[i] = lps
	}
	return out, nil
}

// TokenLogprobs returns, for each text, every token's log-probability given
// the tokens before it. The first token has no context and gets
// logprobs.NoValue.
func TokenLogprobs(ctx context.Context, be Backend, texts []string, batchSize int) ([][]float64, error) {
	if err := checkTexts("texts", texts); err != nil {
		return nil, err
	}
	path, err := Path(be.Model)
	if err != nil {
		return nil, err
	}
	defer metrics.ObserveSince(path, time.Now())

	var out [][]float64
	err = scoring(be, func() error {
		var err error
		out, err = batch.Apply(ctx, texts, batchSize, func(ctx context.Context, chunk []string) ([][]float64, error) {
			if seq, ok := be.Model.(Sequential); ok && path == metrics.PathSequential {
				return SequentialTokens(ctx, seq, be.Tokenizer, chunk)
			}
			return batchedTokens(ctx, be, chunk, path)
		})
		return err
	})
	return out, err
}

func batchedTokens(ctx context.Context, be Backend, texts []string, path string) ([][]float64, error) {
	m := be.Model.(Batched)
	enc, err := tokenizer.EncodeBatch(be.Tokenizer, texts)
	if err != nil {
		return nil, err
	}
	out, err := safeForward(ctx, m, &Step{InputIDs: enc.InputIDs, AttentionMask: enc.AttentionMask}, path)
	if err != nil {
		return nil, err
	}
	if err := allPositions(out, enc.Width()); err != nil {
		return nil, err
	}
	lps, err := logprobs.FromScores(out.Logits, enc.InputIDs, 1, 1)
	if err != nil {
		return nil, err
	}
	starts := make([]int, len(lps))
	ends := make([]int, len(lps))
	for i, n := range enc.Lengths() {
		starts[i] = firstReal(enc.AttentionMask[i])
		ends[i] = starts[i] + n - 1
	}
	lps, err = logprobs.Slice(lps, starts, ends)
	if err != nil {
		return nil, err
	}
	return logprobs.WithNoValue(lps), nil
}
