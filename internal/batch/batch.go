// Package batch splits work into fixed-size chunks and regroups flat results
// into ragged per-prompt lists.
package batch

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
)

// Range is a half-open [Start, End) index range.
type Range struct {
	Start, End int
}

// Ranges splits n items into consecutive ranges of at most size items.
func Ranges(n, size int) []Range {
	if size < 1 {
		size = 1
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, Range{Start: start, End: min(start+size, n)})
	}
	return out
}

// Apply calls fn on consecutive chunks of at most size items and concatenates
// the results in input order. The context is checked between chunks.
func Apply[In, Out any](ctx context.Context, items []In, size int, fn func(context.Context, []In) ([]Out, error)) ([]Out, error) {
	if size < 1 {
		return nil, errdefs.InvalidInput("batch size must be at least 1, got %d", size)
	}
	log := logger.FromContext(ctx)
	ranges := Ranges(len(items), size)
	var out []Out
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := fn(ctx, items[r.Start:r.End])
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(ranges), err)
		}
		out = append(out, res...)
		log.Debug("processed chunk", "chunk", i+1, "chunks", len(ranges), "items", r.End-r.Start)
	}
	return out, nil
}

// Constant regroups flat into consecutive groups of size items.
func Constant[T any](flat []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, errdefs.InvalidInput("group size must be at least 1, got %d", size)
	}
	if len(flat)%size != 0 {
		return nil, errdefs.InvalidInput("%d items do not split into groups of %d", len(flat), size)
	}
	out := make([][]T, 0, len(flat)/size)
	for start := 0; start < len(flat); start += size {
		out = append(out, flat[start:start+size:start+size])
	}
	return out, nil
}

// Variable regroups flat into consecutive groups with the given sizes. The
// sizes must add up to len(flat).
func Variable[T any](flat []T, sizes []int) ([][]T, error) {
	total := 0
	for i, s := range sizes {
		if s < 0 {
			return nil, errdefs.InvalidInput("group %d has negative size %d", i, s)
		}
		total += s
	}
	if total != len(flat) {
		return nil, errdefs.InvalidInput("group sizes add up to %d, but there are %d items", total, len(flat))
	}
	out := make([][]T, len(sizes))
	start := 0
	for i, s := range sizes {
		out[i] = flat[start : start+s : start+s]
		start += s
	}
	return out, nil
}

// Flatten concatenates nested in order.
func Flatten[T any](nested [][]T) []T {
	n := 0
	for _, row := range nested {
		n += len(row)
	}
	out := make([]T, 0, n)
	for _, row := range nested {
		out = append(out, row...)
	}
	return out
}

// Sizes returns the length of each group.
func Sizes[T any](nested [][]T) []int {
	out := make([]int, len(nested))
	for i, row := range nested {
		out[i] = len(row)
	}
	return out
}
