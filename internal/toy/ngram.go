package toy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/tensor"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// ngramLambda weights a context's maximum-likelihood estimate against the
// next shorter context.
const ngramLambda = 0.8

// NGram is a count-based language model with Jelinek-Mercer smoothing down to
// a uniform distribution. Its scores are log-probabilities.
type NGram struct {
	order  int
	vocab  int
	counts []map[string]map[int]int // by context length
	totals []map[string]int
}

// NewNGram counts n-grams of up to order tokens over the given sequences.
func NewNGram(order, vocab int, corpus [][]int) (*NGram, error) {
	if order < 1 {
		return nil, fmt.Errorf("ngram: order must be at least 1, got %d", order)
	}
	if vocab <= 0 {
		return nil, fmt.Errorf("ngram: vocab must be positive, got %d", vocab)
	}
	m := &NGram{
		order:  order,
		vocab:  vocab,
		counts: make([]map[string]map[int]int, order),
		totals: make([]map[string]int, order),
	}
	for n := range order {
		m.counts[n] = make(map[string]map[int]int)
		m.totals[n] = make(map[string]int)
	}
	for _, seq := range corpus {
		for i, id := range seq {
			if id < 0 || id >= vocab {
				return nil, fmt.Errorf("ngram: token id %d out of range", id)
			}
			for n := 0; n < order && n <= i; n++ {
				key := contextKey(seq[i-n : i])
				if m.counts[n][key] == nil {
					m.counts[n][key] = make(map[int]int)
				}
				m.counts[n][key][id]++
				m.totals[n][key]++
			}
		}
	}
	return m, nil
}

// TrainNGram tokenizes each corpus text and counts its n-grams.
func TrainNGram(tok tokenizer.Tokenizer, vocab, order int, corpus []string) (*NGram, error) {
	seqs := make([][]int, 0, len(corpus))
	for i, text := range corpus {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("ngram: encode corpus text %d: %w", i, err)
		}
		seqs = append(seqs, ids)
	}
	return NewNGram(order, vocab, seqs)
}

func contextKey(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

func (m *NGram) VocabSize() int { return m.vocab }

// logProbs writes log P(w | history) for every w into dst.
func (m *NGram) logProbs(dst []float32, history []int) {
	probs := make([]float64, m.vocab)
	for i := range probs {
		probs[i] = 1 / float64(m.vocab)
	}
	for n := 0; n < m.order && n <= len(history); n++ {
		key := contextKey(history[len(history)-n:])
		total := m.totals[n][key]
		if total == 0 {
			break
		}
		for i := range probs {
			probs[i] *= 1 - ngramLambda
		}
		for id, c := range m.counts[n][key] {
			probs[id] += ngramLambda * float64(c) / float64(total)
		}
	}
	for i, p := range probs {
		dst[i] = float32(math.Log(p))
	}
}

// Forward scores every position of every row. Tokens whose mask entry is 0 are
// left out of later contexts. NGram keeps no attention state, so Past must be
// nil.
func (m *NGram) Forward(ctx context.Context, step *inference.Step) (*inference.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Past != nil {
		return nil, errdefs.Precondition("ngram: model has no reusable attention state")
	}
	if len(step.InputIDs) == 0 {
		return nil, errdefs.InvalidInput("ngram: empty batch")
	}
	width := len(step.InputIDs[0])
	out := tensor.NewScores(len(step.InputIDs), width, m.vocab)
	for i, row := range step.InputIDs {
		if len(row) != width || len(step.AttentionMask[i]) != width {
			return nil, errdefs.InvalidInput("ngram: row %d is not %d wide", i, width)
		}
		history := make([]int, 0, width)
		for j, id := range row {
			if id < 0 || id >= m.vocab {
				return nil, errdefs.InvalidInput("ngram: token id %d out of range", id)
			}
			if step.AttentionMask[i][j] == 1 {
				history = append(history, id)
			}
			m.logProbs(out.At(i, j), history)
		}
	}
	return &inference.Output{Logits: out}, nil
}
