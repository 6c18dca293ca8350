package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Pair represents a pair of BPE tokens.
type Pair struct {
	A string
	B string
}

// BPE is a byte-level BPE tokenizer in the GPT-2 style.
type BPE struct {
	Padding

	encoder     map[string]int
	decoder     []string
	ranks       map[Pair]int
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	unkID       int

	mu    sync.Mutex
	cache map[string][]string
}

// Go regexp does not support lookahead, so the trailing whitespace branch is
// collapsed into a plain \s+ match.
var gpt2Pattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

// NewBPE builds a tokenizer from a vocabulary and ranked "a b" merge lines.
// unkID < 0 makes unknown pieces an error.
func NewBPE(tokens []string, merges []string, unkID int) (*BPE, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty token list")
	}
	encoder := make(map[string]int, len(tokens))
	for i, t := range tokens {
		encoder[t] = i
	}
	ranks := make(map[Pair]int, len(merges))
	rank := 0
	for _, line := range merges {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || strings.Contains(b, " ") {
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	byteEncoder, byteDecoder := bytesToUnicode()
	return &BPE{
		encoder:     encoder,
		decoder:     append([]string(nil), tokens...),
		ranks:       ranks,
		byteEncoder: byteEncoder,
		byteDecoder: byteDecoder,
		pattern:     gpt2Pattern,
		unkID:       unkID,
		cache:       make(map[string][]string),
	}, nil
}

type hfTokenizerJSON struct {
	Model struct {
		Type     string         `json:"type"`
		Vocab    map[string]int `json:"vocab"`
		Merges   []any          `json:"merges"`
		UnkToken string         `json:"unk_token"`
	} `json:"model"`
	Padding *struct {
		Direction string `json:"direction"`
		PadID     int    `json:"pad_id"`
	} `json:"padding"`
}

// LoadBPE reads a Hugging Face tokenizer.json holding a BPE model.
func LoadBPE(path string) (*BPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBPE(data)
}

// ParseBPE parses the contents of a Hugging Face tokenizer.json.
func ParseBPE(data []byte) (*BPE, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	maxID := -1
	for _, id := range tj.Model.Vocab {
		maxID = max(maxID, id)
	}
	tokens := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		tokens[id] = tok
	}
	merges := make([]string, 0, len(tj.Model.Merges))
	for _, raw := range tj.Model.Merges {
		switch v := raw.(type) {
		case string:
			merges = append(merges, v)
		case []any:
			if len(v) != 2 {
				continue
			}
			a, aok := v[0].(string)
			b, bok := v[1].(string)
			if aok && bok {
				merges = append(merges, a+" "+b)
			}
		}
	}
	unkID := -1
	if id, ok := tj.Model.Vocab[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		unkID = id
	}
	tok, err := NewBPE(tokens, merges, unkID)
	if err != nil {
		return nil, err
	}
	if tj.Padding != nil {
		tok.ID = tj.Padding.PadID
		if strings.EqualFold(tj.Padding.Direction, "left") {
			tok.Side = PadLeft
		}
	}
	return tok, nil
}

// VocabSize returns the number of token ids.
func (t *BPE) VocabSize() int { return len(t.decoder) }

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	for _, piece := range t.pattern.FindAllString(text, -1) {
		for _, sub := range t.bpe(t.byteEncode(piece)) {
			id, ok := t.encoder[sub]
			if !ok {
				if t.unkID >= 0 {
					ids = append(ids, t.unkID)
					continue
				}
				return nil, fmt.Errorf("unknown token: %q", sub)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *BPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		for _, r := range t.decoder[id] {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[token]; ok {
		return v
	}
	word := splitRunes(token)
	for len(word) > 1 {
		best, bestRank := Pair{}, -1
		for i := 0; i+1 < len(word); i++ {
			p := Pair{A: word[i], B: word[i+1]}
			if r, ok := t.ranks[p]; ok && (bestRank < 0 || r < bestRank) {
				best, bestRank = p, r
			}
		}
		if bestRank < 0 {
			break
		}
		word = mergePair(word, best)
	}
	t.cache[token] = word
	return word
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func mergePair(word []string, pair Pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// bytesToUnicode maps bytes to printable runes so BPE is reversible.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}
	printable := make(map[int]bool, len(bs))
	for _, b := range bs {
		printable[b] = true
	}
	cs := append([]int(nil), bs...)
	n := 0
	for b := range 256 {
		if !printable[b] {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}
	enc := make(map[byte]string, len(bs))
	dec := make(map[string]byte, len(bs))
	for i, b := range bs {
		s := string(rune(cs[i]))
		enc[byte(b)] = s
		dec[s] = byte(b)
	}
	return enc, dec
}
