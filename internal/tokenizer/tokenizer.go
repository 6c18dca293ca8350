package tokenizer

import (
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
)

// Tokenizer defines the minimal interface used by the scoring pipeline.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// PaddingSide selects where pad tokens go when a batch is padded to a common
// width.
type PaddingSide int

const (
	PadRight PaddingSide = iota
	PadLeft
)

func (p PaddingSide) String() string {
	switch p {
	case PadRight:
		return "right"
	case PadLeft:
		return "left"
	default:
		return fmt.Sprintf("PaddingSide(%d)", int(p))
	}
}

// Padded is implemented by tokenizers with a configurable padding side.
type Padded interface {
	PaddingSide() PaddingSide
	SetPaddingSide(PaddingSide)
	PadID() int
}

// Padding is an embeddable Padded implementation.
type Padding struct {
	Side PaddingSide
	ID   int
}

func (p *Padding) PaddingSide() PaddingSide     { return p.Side }
func (p *Padding) SetPaddingSide(s PaddingSide) { p.Side = s }
func (p *Padding) PadID() int                   { return p.ID }

// ErrEmptyText is returned when a text encodes to zero tokens.
var ErrEmptyText = fmt.Errorf("%w: text produced no tokens", errdefs.ErrInvalidInput)

// Batch holds padded encodings for several texts. AttentionMask is 1 for real
// tokens and 0 for padding.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
}

// Len returns the number of texts in the batch.
func (b *Batch) Len() int { return len(b.InputIDs) }

// Width returns the padded sequence length.
func (b *Batch) Width() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// Lengths returns the number of real tokens per text.
func (b *Batch) Lengths() []int {
	out := make([]int, len(b.AttentionMask))
	for i, row := range b.AttentionMask {
		for _, m := range row {
			out[i] += m
		}
	}
	return out
}

// Repeat returns a batch where row i appears counts[i] times in a row.
func (b *Batch) Repeat(counts []int) (*Batch, error) {
	if len(counts) != b.Len() {
		return nil, fmt.Errorf("repeat batch of %d rows with %d counts", b.Len(), len(counts))
	}
	out := &Batch{}
	for i, c := range counts {
		for range c {
			out.InputIDs = append(out.InputIDs, b.InputIDs[i])
			out.AttentionMask = append(out.AttentionMask, b.AttentionMask[i])
		}
	}
	return out, nil
}

// Tile returns n back-to-back copies of the batch.
func (b *Batch) Tile(n int) *Batch {
	out := &Batch{
		InputIDs:      make([][]int, 0, b.Len()*n),
		AttentionMask: make([][]int, 0, b.Len()*n),
	}
	for range n {
		out.InputIDs = append(out.InputIDs, b.InputIDs...)
		out.AttentionMask = append(out.AttentionMask, b.AttentionMask...)
	}
	return out
}

// EncodeBatch tokenizes texts and pads them to a common width. Tokenizers that
// implement Padded decide the side and the pad id; others pad right with 0.
// A text that encodes to zero tokens is an error.
func EncodeBatch(tok Tokenizer, texts []string) (*Batch, error) {
	side, padID := PadRight, 0
	if p, ok := tok.(Padded); ok {
		side, padID = p.PaddingSide(), p.PadID()
	}
	encoded := make([][]int, len(texts))
	width := 0
	for i, text := range texts {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: text %d %q", ErrEmptyText, i, text)
		}
		encoded[i] = ids
		width = max(width, len(ids))
	}
	b := &Batch{
		InputIDs:      make([][]int, len(texts)),
		AttentionMask: make([][]int, len(texts)),
	}
	for i, ids := range encoded {
		row := make([]int, width)
		mask := make([]int, width)
		pad := width - len(ids)
		start := 0
		if side == PadLeft {
			start = pad
		}
		for j := range row {
			row[j] = padID
		}
		copy(row[start:], ids)
		for j := start; j < start+len(ids); j++ {
			mask[j] = 1
		}
		b.InputIDs[i] = row
		b.AttentionMask[i] = mask
	}
	return b, nil
}

// Count returns the number of tokens in text.
func Count(tok Tokenizer, text string) (int, error) {
	ids, err := tok.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
