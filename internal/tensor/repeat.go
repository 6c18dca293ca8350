package tensor

import "fmt"

// RepeatInterleave repeats xs[i] counts[i] times, keeping copies contiguous.
// Elements are copied shallowly.
func RepeatInterleave[T any](xs []T, counts []int) ([]T, error) {
	if len(counts) != len(xs) {
		return nil, fmt.Errorf("%w: %d repeat counts for %d rows", ErrShape, len(counts), len(xs))
	}
	total := 0
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative repeat count %d at row %d", ErrShape, c, i)
		}
		total += c
	}
	out := make([]T, 0, total)
	for i, c := range counts {
		for range c {
			out = append(out, xs[i])
		}
	}
	return out, nil
}

// Tile returns n back-to-back copies of xs.
func Tile[T any](xs []T, n int) []T {
	out := make([]T, 0, len(xs)*n)
	for range n {
		out = append(out, xs...)
	}
	return out
}

// ConcatRows joins a[i] and b[i] for every row.
func ConcatRows[T any](a, b [][]T) ([][]T, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: cannot concat %d rows with %d rows", ErrShape, len(a), len(b))
	}
	out := make([][]T, len(a))
	for i := range a {
		row := make([]T, 0, len(a[i])+len(b[i]))
		row = append(row, a[i]...)
		out[i] = append(row, b[i]...)
	}
	return out, nil
}
