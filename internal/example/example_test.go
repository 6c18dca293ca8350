package example

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cappr/internal/errdefs"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	e, err := New("hi", []string{"positive", "negative"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.EndOfPrompt() != " " || !e.Normalize() || e.Prior() != nil {
		t.Fatalf("unexpected defaults: %q %v %v", e.EndOfPrompt(), e.Normalize(), e.Prior())
	}
	if e.NumCompletions() != 2 {
		t.Fatalf("NumCompletions = %d", e.NumCompletions())
	}
}

func TestExampleIsImmutable(t *testing.T) {
	t.Parallel()

	completions := []string{"a", "b"}
	prior := []float64{0.5, 0.5}
	e, err := New("p", completions, WithPrior(prior))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	completions[0] = "changed"
	prior[0] = 0.9
	e.Completions()[1] = "changed"
	e.Prior()[1] = 0.9

	if diff := cmp.Diff([]string{"a", "b"}, e.Completions()); diff != "" {
		t.Fatalf("completions changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.5, 0.5}, e.Prior()); diff != "" {
		t.Fatalf("prior changed (-want +got):\n%s", diff)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		prompt      string
		completions []string
		opts        []Option
	}{
		{"empty prompt", "", []string{"a"}, nil},
		{"no completions", "p", nil, nil},
		{"blank completion", "p", []string{"a", " "}, nil},
		{"end of prompt", "p", []string{"a"}, []Option{WithEndOfPrompt("\n")}},
		{"prior length", "p", []string{"a", "b"}, []Option{WithPrior([]float64{1})}},
		{"prior sum", "p", []string{"a", "b"}, []Option{WithPrior([]float64{0.5, 0.6})}},
		{"prior range", "p", []string{"a", "b"}, []Option{WithPrior([]float64{-0.1, 1.1})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.prompt, tt.completions, tt.opts...); !errors.Is(err, errdefs.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if _, err := New("p", []string{"a", "b"}, WithEndOfPrompt(""), WithNormalize(false), WithPrior([]float64{0.25, 0.75})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
