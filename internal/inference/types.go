package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/cappr/internal/tensor"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// Model is the part every local backend shares.
type Model interface {
	VocabSize() int
}

// Step is one batched forward pass.
//
// AttentionMask covers the past positions followed by the current ones, so each
// row has Past.Len()+len(InputIDs[i]) entries. A nil PositionIDs means
// positions continue from the past length.
type Step struct {
	InputIDs      [][]int
	AttentionMask [][]int
	PositionIDs   [][]int
	Past          *State
}

// Output holds next-token scores of shape [batch, positions, vocab]. When the
// model only returns last-position scores, positions is 1.
type Output struct {
	Logits *tensor.Scores
	Past   *State
}

// Batched models run many sequences in one forward pass.
type Batched interface {
	Model
	Forward(ctx context.Context, step *Step) (*Output, error)
}

// Settings are the mutable model flags the scoring paths depend on.
type Settings struct {
	Training  bool
	UseCache  bool
	LogitsAll bool
}

// ScoringSettings is what every scoring path needs: no dropout, attention
// state returned, scores at every position.
var ScoringSettings = Settings{Training: false, UseCache: true, LogitsAll: true}

// Cached models return reusable attention state from Forward.
type Cached interface {
	Batched
	Settings() Settings
	SetSettings(Settings) error
}

// Sequential models hold a single sequence at a time, llama.cpp style.
// Logits returns one row per evaluated token.
type Sequential interface {
	Model
	Reset()
	Eval(ctx context.Context, ids []int) error
	Logits() *tensor.Mat
	Truncate(n int)
	NumTokens() int
}

// Backend pairs a model with the tokenizer it was trained with.
type Backend struct {
	Model     Model
	Tokenizer tokenizer.Tokenizer
}

// LayerState holds one layer's keys and values as [batch, positions, width].
type LayerState struct {
	Keys   *tensor.Scores
	Values *tensor.Scores
}

// State is a model's per-layer attention state.
type State struct {
	Layers []LayerState
}

// Len returns the number of positions held.
func (s *State) Len() int {
	if s == nil || len(s.Layers) == 0 {
		return 0
	}
	return s.Layers[0].Keys.Positions
}

// Batch returns the number of sequences held.
func (s *State) Batch() int {
	if s == nil || len(s.Layers) == 0 {
		return 0
	}
	return s.Layers[0].Keys.Rows
}

// RepeatInterleave repeats sequence i counts[i] times in every layer.
func (s *State) RepeatInterleave(counts []int) (*State, error) {
	out := &State{Layers: make([]LayerState, len(s.Layers))}
	for i, l := range s.Layers {
		k, err := l.Keys.RepeatInterleave(counts)
		if err != nil {
			return nil, fmt.Errorf("layer %d keys: %w", i, err)
		}
		v, err := l.Values.RepeatInterleave(counts)
		if err != nil {
			return nil, fmt.Errorf("layer %d values: %w", i, err)
		}
		out.Layers[i] = LayerState{Keys: k, Values: v}
	}
	return out, nil
}

// Truncate keeps the first n positions in every layer.
func (s *State) Truncate(n int) *State {
	out := &State{Layers: make([]LayerState, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = LayerState{
			Keys:   l.Keys.SlicePositions(0, n),
			Values: l.Values.SlicePositions(0, n),
		}
	}
	return out
}
