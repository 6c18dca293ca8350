package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cappr/internal/errdefs"
)

func TestRanges(t *testing.T) {
	t.Parallel()

	got := Ranges(7, 3)
	want := []Range{{0, 3}, {3, 6}, {6, 7}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ranges mismatch (-want +got):\n%s", diff)
	}
	if len(Ranges(0, 3)) != 0 {
		t.Fatalf("expected no ranges for zero items")
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	t.Parallel()

	items := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	fn := func(_ context.Context, chunk []string) ([]string, error) {
		out := make([]string, len(chunk))
		for i, s := range chunk {
			out[i] = strings.ToUpper(s)
		}
		return out, nil
	}
	whole, err := Apply(context.Background(), items, len(items), fn)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for size := 1; size <= len(items)+1; size++ {
		got, err := Apply(context.Background(), items, size, fn)
		if err != nil {
			t.Fatalf("Apply(size=%d): %v", size, err)
		}
		if diff := cmp.Diff(whole, got); diff != "" {
			t.Fatalf("size %d differs from unchunked result (-want +got):\n%s", size, diff)
		}
	}
}

func TestApplyErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	_, err := Apply(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, chunk []int) ([]int, error) {
		calls++
		if chunk[0] == 2 {
			return nil, boom
		}
		return chunk, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped chunk error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Apply(ctx, []int{1}, 1, func(_ context.Context, c []int) ([]int, error) { return c, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if _, err := Apply(context.Background(), []int{1}, 0, func(_ context.Context, c []int) ([]int, error) { return c, nil }); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for size 0, got %v", err)
	}
}

func TestVariable(t *testing.T) {
	t.Parallel()

	flat := []string{"a", "b", "c", "d", "e", "f"}
	got, err := Variable(flat, []int{2, 1, 3})
	if err != nil {
		t.Fatalf("Variable: %v", err)
	}
	want := [][]string{{"a", "b"}, {"c"}, {"d", "e", "f"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(flat, Flatten(got)); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 1, 3}, Sizes(got)); diff != "" {
		t.Fatalf("sizes mismatch (-want +got):\n%s", diff)
	}

	if _, err := Variable(flat, []int{2, 2}); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConstant(t *testing.T) {
	t.Parallel()

	got, err := Constant([]int{1, 2, 3, 4}, 2)
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	if diff := cmp.Diff([][]int{{1, 2}, {3, 4}}, got); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
	if _, err := Constant([]int{1, 2, 3}, 2); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
