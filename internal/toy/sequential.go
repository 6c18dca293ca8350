package toy

import (
	"context"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/tensor"
)

// Sequential exposes a batched model one sequence at a time. Cached models
// with UseCache set extend their attention state on each Eval; other models
// rerun the whole history.
type Sequential struct {
	model  inference.Batched
	ids    []int
	logits [][]float32
	past   *inference.State
}

// NewSequential wraps m.
func NewSequential(m inference.Batched) *Sequential {
	return &Sequential{model: m}
}

func (s *Sequential) VocabSize() int { return s.model.VocabSize() }

func (s *Sequential) Reset() {
	s.ids = nil
	s.logits = nil
	s.past = nil
}

func (s *Sequential) NumTokens() int { return len(s.ids) }

// Eval appends ids to the sequence and records scores for each of them.
func (s *Sequential) Eval(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	step := &inference.Step{}
	if c, ok := s.model.(inference.Cached); ok && c.Settings().UseCache && (s.past != nil || len(s.ids) == 0) {
		step.InputIDs = [][]int{ids}
		step.Past = s.past
	} else {
		step.InputIDs = [][]int{append(append([]int(nil), s.ids...), ids...)}
	}
	step.AttentionMask = [][]int{ones(len(s.ids) + len(ids))}

	out, err := s.model.Forward(ctx, step)
	if err != nil {
		return err
	}
	width := len(step.InputIDs[0])
	if out.Logits.Positions != width {
		return errdefs.Precondition("model returned scores for %d of %d positions; enable LogitsAll", out.Logits.Positions, width)
	}
	for j := width - len(ids); j < width; j++ {
		s.logits = append(s.logits, append([]float32(nil), out.Logits.At(0, j)...))
	}
	s.ids = append(s.ids, ids...)
	s.past = out.Past
	return nil
}

// Logits returns one row of scores per evaluated token.
func (s *Sequential) Logits() *tensor.Mat {
	vocab := s.model.VocabSize()
	m := tensor.NewMat(len(s.logits), vocab)
	for i, row := range s.logits {
		copy(m.Row(i), row)
	}
	return &m
}

// Truncate drops everything after the first n tokens.
func (s *Sequential) Truncate(n int) {
	if n >= len(s.ids) {
		return
	}
	s.ids = s.ids[:n]
	s.logits = s.logits[:n]
	if s.past != nil {
		s.past = s.past.Truncate(n)
	}
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
