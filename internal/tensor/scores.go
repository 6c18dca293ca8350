package tensor

import (
	"errors"
	"fmt"
)

// ErrShape is returned when tensor dimensions disagree.
var ErrShape = errors.New("tensor: shape mismatch")

// Scores is a dense row-major [rows, positions, width] block of float32.
//
// For next-token scores width is the vocabulary size. Attention state uses the
// same layout with width equal to the hidden size.
type Scores struct {
	Rows, Positions, Width int
	Data                   []float32
}

// NewScores allocates a zeroed block.
func NewScores(rows, positions, width int) *Scores {
	if rows < 0 || positions < 0 || width < 0 {
		panic("negative dimension for scores")
	}
	return &Scores{
		Rows:      rows,
		Positions: positions,
		Width:     width,
		Data:      make([]float32, rows*positions*width),
	}
}

// At returns a view of the vector at (row, pos).
func (s *Scores) At(row, pos int) []float32 {
	if row < 0 || row >= s.Rows || pos < 0 || pos >= s.Positions {
		panic(fmt.Sprintf("scores index (%d, %d) out of range [%d, %d]", row, pos, s.Rows, s.Positions))
	}
	start := (row*s.Positions + pos) * s.Width
	return s.Data[start : start+s.Width]
}

// Row returns a view of all positions of one row.
func (s *Scores) Row(row int) []float32 {
	n := s.Positions * s.Width
	return s.Data[row*n : (row+1)*n]
}

// Shape reports the dimensions as a slice for error messages.
func (s *Scores) Shape() []int {
	return []int{s.Rows, s.Positions, s.Width}
}

// Clone returns a deep copy.
func (s *Scores) Clone() *Scores {
	out := &Scores{Rows: s.Rows, Positions: s.Positions, Width: s.Width}
	out.Data = append([]float32(nil), s.Data...)
	return out
}

// RepeatInterleave repeats row i counts[i] times along the row axis, keeping
// all copies of a row contiguous and rows in their original order.
func (s *Scores) RepeatInterleave(counts []int) (*Scores, error) {
	if len(counts) != s.Rows {
		return nil, fmt.Errorf("%w: %d repeat counts for %d rows", ErrShape, len(counts), s.Rows)
	}
	total := 0
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative repeat count %d at row %d", ErrShape, c, i)
		}
		total += c
	}
	out := NewScores(total, s.Positions, s.Width)
	n := s.Positions * s.Width
	dst := 0
	for i, c := range counts {
		src := s.Row(i)
		for range c {
			copy(out.Data[dst*n:(dst+1)*n], src)
			dst++
		}
	}
	return out, nil
}

// Tile stacks n copies of the whole block along the row axis.
func (s *Scores) Tile(n int) *Scores {
	out := NewScores(s.Rows*n, s.Positions, s.Width)
	for i := range n {
		copy(out.Data[i*len(s.Data):], s.Data)
	}
	return out
}

// SlicePositions copies positions [start, end) of every row.
func (s *Scores) SlicePositions(start, end int) *Scores {
	if start < 0 || end > s.Positions || start > end {
		panic(fmt.Sprintf("position slice [%d:%d] out of range %d", start, end, s.Positions))
	}
	out := NewScores(s.Rows, end-start, s.Width)
	for r := range s.Rows {
		src := s.Row(r)[start*s.Width : end*s.Width]
		copy(out.Row(r), src)
	}
	return out
}

// ConcatPositions joins a and b along the position axis.
func ConcatPositions(a, b *Scores) (*Scores, error) {
	if a.Rows != b.Rows || a.Width != b.Width {
		return nil, fmt.Errorf("%w: cannot concat %v with %v along positions", ErrShape, a.Shape(), b.Shape())
	}
	out := NewScores(a.Rows, a.Positions+b.Positions, a.Width)
	for r := range a.Rows {
		dst := out.Row(r)
		n := copy(dst, a.Row(r))
		copy(dst[n:], b.Row(r))
	}
	return out, nil
}
