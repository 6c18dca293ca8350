package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/metrics"
	"github.com/samcharles93/cappr/internal/tensor"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// ErrPaddingSide is returned by the cached paths when the tokenizer pads on
// the left.
var ErrPaddingSide = errdefs.Precondition("tokenizer must pad on the right so position ids line up; set its padding side to right")

// Counts says how many completions each prompt is scored against: one number
// for every prompt, or one per prompt.
type Counts struct {
	constant  int
	perPrompt []int
}

// Constant uses n completions for every prompt.
func Constant(n int) Counts { return Counts{constant: n} }

// PerPrompt uses counts[i] completions for prompt i.
func PerPrompt(counts []int) Counts {
	return Counts{perPrompt: append([]int(nil), counts...)}
}

// Expand returns one count per prompt.
func (c Counts) Expand(numPrompts int) ([]int, error) {
	if c.perPrompt == nil {
		if c.constant < 1 {
			return nil, errdefs.InvalidInput("completions per prompt must be at least 1, got %d", c.constant)
		}
		out := make([]int, numPrompts)
		for i := range out {
			out[i] = c.constant
		}
		return out, nil
	}
	if len(c.perPrompt) != numPrompts {
		return nil, errdefs.InvalidInput("got %d completion counts for %d prompts", len(c.perPrompt), numPrompts)
	}
	for i, n := range c.perPrompt {
		if n < 1 {
			return nil, errdefs.InvalidInput("prompt %d has %d completions", i, n)
		}
	}
	return append([]int(nil), c.perPrompt...), nil
}

// PromptState is the result of running a batch of prompts once, with every
// part repeated so that row r lines up with the r-th (prompt, completion)
// pair.
type PromptState struct {
	// Past is the attention state after the prompt tokens.
	Past *State
	// Encodings are the right-padded prompt encodings.
	Encodings *tokenizer.Batch
	// Offsets are the number of real tokens in each prompt.
	Offsets []int
	// LastScores are the next-token scores at each prompt's last real token,
	// shaped [rows, 1, vocab].
	LastScores *tensor.Scores
}

func cachedModel(be Backend) (Cached, error) {
	m, ok := be.Model.(Cached)
	if !ok {
		return nil, errdefs.Precondition("model %T does not return reusable attention state", be.Model)
	}
	if p, ok := be.Tokenizer.(tokenizer.Padded); ok && p.PaddingSide() != tokenizer.PadRight {
		return nil, ErrPaddingSide
	}
	return m, nil
}

// Prompts runs the model once over the prompts and repeats the result
// according to counts. The model must be Cached, return state and return
// scores at every position.
func Prompts(ctx context.Context, be Backend, prompts []string, counts Counts) (*PromptState, error) {
	m, err := cachedModel(be)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, errdefs.InvalidInput("prompts must be non-empty")
	}
	reps, err := counts.Expand(len(prompts))
	if err != nil {
		return nil, err
	}
	enc, err := tokenizer.EncodeBatch(be.Tokenizer, prompts)
	if err != nil {
		return nil, fmt.Errorf("tokenize prompts: %w", err)
	}

	out, err := safeForward(ctx, m, &Step{InputIDs: enc.InputIDs, AttentionMask: enc.AttentionMask}, metrics.PathFast)
	if err != nil {
		return nil, fmt.Errorf("prompt forward pass: %w", err)
	}
	if out.Past == nil {
		return nil, errdefs.Precondition("model returned no attention state; enable UseCache")
	}
	if err := allPositions(out, enc.Width()); err != nil {
		return nil, err
	}

	lengths := enc.Lengths()
	last := tensor.NewScores(len(prompts), 1, out.Logits.Width)
	for i, n := range lengths {
		copy(last.At(i, 0), out.Logits.At(i, n-1))
	}

	past, err := out.Past.RepeatInterleave(reps)
	if err != nil {
		return nil, err
	}
	encRep, err := enc.Repeat(reps)
	if err != nil {
		return nil, err
	}
	lastRep, err := last.RepeatInterleave(reps)
	if err != nil {
		return nil, err
	}
	return &PromptState{
		Past:       past,
		Encodings:  encRep,
		Offsets:    encRep.Lengths(),
		LastScores: lastRep,
	}, nil
}
