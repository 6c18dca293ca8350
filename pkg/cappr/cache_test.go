package cappr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cappr/pkg/cappr"
)

func TestCacheMatchesFullPrompts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, model := newTransformerScorer(t)
	prefix := "Once upon a time there was a princess."
	prompts := []string{" In a hole in", " a"}
	completions := []string{"the ground", "hobbit."}

	full := make([]string, len(prompts))
	for i, p := range prompts {
		full[i] = prefix + p
	}
	want, err := cappr.LogProbsConditional(ctx, s, full, completions)
	if err != nil {
		t.Fatalf("full prompts: %v", err)
	}

	before := model.Settings()
	var kept *cappr.CachedScorer
	retained, err := cappr.Cache(ctx, s, prefix, func(c *cappr.CachedScorer) error {
		kept = c
		got, err := cappr.LogProbsConditional(ctx, c, prompts, completions)
		if err != nil {
			return err
		}
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Errorf("cached prefix changes results (-want +got):\n%s", diff)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Cache: %v", err)
	}
	if retained != nil {
		t.Fatal("Cache without WithRetain returned a scorer")
	}
	if model.Settings() != before {
		t.Fatalf("settings = %+v, want %+v", model.Settings(), before)
	}
	if _, err := cappr.LogProbsConditional(ctx, kept, prompts, completions); !errors.Is(err, cappr.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition after scope exit, got %v", err)
	}
}

func TestCacheRetain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTransformerScorer(t)
	c, err := cappr.Cache(ctx, s, "In a hole", func(*cappr.CachedScorer) error { return nil }, cappr.WithRetain(true))
	if err != nil {
		t.Fatalf("Cache: %v", err)
	}
	if c == nil || c.Prefix() != "In a hole" {
		t.Fatalf("retained scorer = %v", c)
	}
	if _, err := cappr.Predict(ctx, c, []string{" in"}, []string{"the ground", "a time"}); err != nil {
		t.Fatalf("Predict after retain: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCacheErrorReleases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, model := newTransformerScorer(t)
	before := model.Settings()
	errBoom := errors.New("boom")
	var kept *cappr.CachedScorer
	_, err := cappr.Cache(ctx, s, "In a hole", func(c *cappr.CachedScorer) error {
		kept = c
		return errBoom
	}, cappr.WithRetain(true))
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if model.Settings() != before {
		t.Fatalf("settings changed: %+v", model.Settings())
	}
	_ = kept.Close()
}

func TestCacheNeedsState(t *testing.T) {
	t.Parallel()

	s := newNGramScorer(t)
	_, err := cappr.Cache(context.Background(), s, "Once", func(*cappr.CachedScorer) error { return nil })
	if !errors.Is(err, cappr.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}
