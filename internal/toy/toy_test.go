package toy

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	m, err := NewTransformer(Config{Vocab: 11, Hidden: 8, Heads: 2, Layers: 2, MaxPositions: 32, Dropout: 0.5, Seed: 3})
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	if err := m.SetSettings(inference.ScoringSettings); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	return m
}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("value %d mismatch: got %f, want %f", i, got[i], want[i])
		}
	}
}

// TestTransformerStateReuse checks that feeding tokens in two steps with the
// returned state matches feeding them all at once.
func TestTransformerStateReuse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestTransformer(t)
	full, err := m.Forward(ctx, &inference.Step{
		InputIDs:      [][]int{{2, 3, 4, 5}},
		AttentionMask: [][]int{{1, 1, 1, 1}},
	})
	if err != nil {
		t.Fatalf("full forward: %v", err)
	}

	first, err := m.Forward(ctx, &inference.Step{
		InputIDs:      [][]int{{2, 3}},
		AttentionMask: [][]int{{1, 1}},
	})
	if err != nil {
		t.Fatalf("prefix forward: %v", err)
	}
	if first.Past.Len() != 2 || first.Past.Batch() != 1 {
		t.Fatalf("state shape = (%d, %d), want (1, 2)", first.Past.Batch(), first.Past.Len())
	}
	second, err := m.Forward(ctx, &inference.Step{
		InputIDs:      [][]int{{4, 5}},
		AttentionMask: [][]int{{1, 1, 1, 1}},
		Past:          first.Past,
	})
	if err != nil {
		t.Fatalf("continuation forward: %v", err)
	}
	if second.Past.Len() != 4 {
		t.Fatalf("state length = %d, want 4", second.Past.Len())
	}
	if first.Past.Len() != 2 {
		t.Fatalf("input state was modified: length %d", first.Past.Len())
	}
	for j := range 2 {
		assertClose(t, second.Logits.At(0, j), full.Logits.At(0, j+2), 1e-5)
	}
}

func TestTransformerRightPaddingIsMasked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestTransformer(t)
	alone, err := m.Forward(ctx, &inference.Step{
		InputIDs:      [][]int{{6, 7}},
		AttentionMask: [][]int{{1, 1}},
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	padded, err := m.Forward(ctx, &inference.Step{
		InputIDs:      [][]int{{6, 7, 0, 0}, {1, 2, 3, 4}},
		AttentionMask: [][]int{{1, 1, 0, 0}, {1, 1, 1, 1}},
	})
	if err != nil {
		t.Fatalf("padded forward: %v", err)
	}
	for j := range 2 {
		assertClose(t, padded.Logits.At(0, j), alone.Logits.At(0, j), 1e-6)
	}
}

func TestTransformerSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestTransformer(t)
	step := &inference.Step{InputIDs: [][]int{{1, 2, 3}}, AttentionMask: [][]int{{1, 1, 1}}}

	if err := m.SetSettings(inference.Settings{}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	out, err := m.Forward(ctx, step)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.Past != nil {
		t.Fatalf("expected no state when UseCache is off")
	}
	if out.Logits.Positions != 1 {
		t.Fatalf("positions = %d, want 1 when LogitsAll is off", out.Logits.Positions)
	}

	a, _ := m.Forward(ctx, step)
	b, _ := m.Forward(ctx, step)
	assertClose(t, a.Logits.Data, b.Logits.Data, 0)

	if err := m.SetSettings(inference.Settings{Training: true}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	c, _ := m.Forward(ctx, step)
	same := true
	for i := range c.Logits.Data {
		if c.Logits.Data[i] != a.Logits.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected dropout to change logits in training mode")
	}
}

func TestTransformerRejectsBadSteps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestTransformer(t)
	tests := []struct {
		name string
		step *inference.Step
	}{
		{"empty", &inference.Step{}},
		{"mask width", &inference.Step{InputIDs: [][]int{{1, 2}}, AttentionMask: [][]int{{1}}}},
		{"token id", &inference.Step{InputIDs: [][]int{{99}}, AttentionMask: [][]int{{1}}}},
		{"position", &inference.Step{InputIDs: [][]int{{1}}, AttentionMask: [][]int{{1}}, PositionIDs: [][]int{{32}}}},
		{"ragged", &inference.Step{InputIDs: [][]int{{1}, {1, 2}}, AttentionMask: [][]int{{1}, {1, 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Forward(ctx, tt.step); !errors.Is(err, errdefs.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

var corpus = []string{
	"In a hole in the ground there lived a hobbit.",
	"Once upon a time there was a princess.",
}

func TestNGramLearnsCorpus(t *testing.T) {
	t.Parallel()

	tok := tokenizer.TrainWordTokenizer(corpus)
	m, err := TrainNGram(tok, tok.VocabSize(), 3, corpus)
	if err != nil {
		t.Fatalf("TrainNGram: %v", err)
	}
	ids, _ := tok.Encode("In a hole in the")
	mask := ones(len(ids))
	out, err := m.Forward(context.Background(), &inference.Step{InputIDs: [][]int{ids}, AttentionMask: [][]int{mask}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	last := out.Logits.At(0, len(ids)-1)
	var sum float64
	for _, lp := range last {
		sum += math.Exp(float64(lp))
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Fatalf("distribution sums to %v", sum)
	}

	ground, _ := tok.Encode(" ground")
	time, _ := tok.Encode(" time")
	if last[ground[0]] <= last[time[0]] {
		t.Fatalf("expected ' ground' to be more likely than ' time' after 'in the'")
	}

	_, err = m.Forward(context.Background(), &inference.Step{
		InputIDs:      [][]int{ids},
		AttentionMask: [][]int{mask},
		Past:          &inference.State{},
	})
	if !errors.Is(err, errdefs.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition for past state, got %v", err)
	}
}

func TestSequentialTruncate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestTransformer(t)
	seq := NewSequential(m)

	if err := seq.Eval(ctx, []int{1, 2}); err != nil {
		t.Fatalf("eval prompt: %v", err)
	}
	if err := seq.Eval(ctx, []int{3, 4}); err != nil {
		t.Fatalf("eval first completion: %v", err)
	}
	seq.Truncate(2)
	if seq.NumTokens() != 2 {
		t.Fatalf("NumTokens = %d, want 2", seq.NumTokens())
	}
	if err := seq.Eval(ctx, []int{5, 6}); err != nil {
		t.Fatalf("eval second completion: %v", err)
	}
	got := seq.Logits()

	fresh := NewSequential(m)
	if err := fresh.Eval(ctx, []int{1, 2, 5, 6}); err != nil {
		t.Fatalf("eval fresh: %v", err)
	}
	want := fresh.Logits()
	if got.R != 4 || want.R != 4 {
		t.Fatalf("rows = %d/%d, want 4", got.R, want.R)
	}
	assertClose(t, got.Data, want.Data, 1e-5)

	fresh.Reset()
	if fresh.NumTokens() != 0 || fresh.Logits().R != 0 {
		t.Fatalf("Reset left tokens behind")
	}
}

func TestSequentialRequiresAllLogits(t *testing.T) {
	t.Parallel()

	m := newTestTransformer(t)
	if err := m.SetSettings(inference.Settings{UseCache: true}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	seq := NewSequential(m)
	if err := seq.Eval(context.Background(), []int{1, 2}); !errors.Is(err, errdefs.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}
