package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	PadToken = "<pad>"
	UnkToken = "<unk>"
)

// Pieces are a word with at most one leading space, or a single whitespace
// character. Splitting "a b" and "a" + " b" gives the same pieces.
var wordPattern = regexp.MustCompile(` ?[^\s]+|\s`)

// WordTokenizer maps whitespace-delimited words to ids, GPT-2 style: a word
// keeps its leading space. Id 0 is padding and id 1 is the unknown word.
type WordTokenizer struct {
	Padding
	encoder map[string]int
	decoder []string
}

// NewWordTokenizer builds a tokenizer over the given pieces. Duplicates are
// ignored.
func NewWordTokenizer(pieces []string) *WordTokenizer {
	t := &WordTokenizer{
		encoder: map[string]int{PadToken: 0, UnkToken: 1},
		decoder: []string{PadToken, UnkToken},
	}
	for _, p := range pieces {
		t.add(p)
	}
	return t
}

// TrainWordTokenizer collects every piece seen in corpus.
func TrainWordTokenizer(corpus []string) *WordTokenizer {
	t := NewWordTokenizer(nil)
	for _, text := range corpus {
		for _, p := range wordPattern.FindAllString(text, -1) {
			t.add(p)
		}
	}
	return t
}

func (t *WordTokenizer) add(piece string) {
	if _, ok := t.encoder[piece]; ok {
		return
	}
	t.encoder[piece] = len(t.decoder)
	t.decoder = append(t.decoder, piece)
}

// VocabSize returns the number of ids including pad and unknown.
func (t *WordTokenizer) VocabSize() int { return len(t.decoder) }

func (t *WordTokenizer) Encode(text string) ([]int, error) {
	pieces := wordPattern.FindAllString(text, -1)
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		id, ok := t.encoder[p]
		if !ok {
			id = 1
		}
		ids[i] = id
	}
	return ids, nil
}

func (t *WordTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if id == 0 {
			continue
		}
		b.WriteString(t.decoder[id])
	}
	return b.String(), nil
}
