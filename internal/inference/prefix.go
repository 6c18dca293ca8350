package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/metrics"
)

// Prefixed is a Cached model that behaves as if every sequence it sees
// started with a fixed prefix. The prefix is run once and its attention state
// is prepended on every Forward.
type Prefixed struct {
	model Cached

	mu     sync.RWMutex
	state  *State
	length int
}

// NewPrefixed runs prefix through be's model and keeps the resulting state.
func NewPrefixed(ctx context.Context, be Backend, prefix string) (*Prefixed, error) {
	m, ok := be.Model.(Cached)
	if !ok {
		return nil, errdefs.Precondition("model %T does not return reusable attention state", be.Model)
	}
	ids, err := be.Tokenizer.Encode(prefix)
	if err != nil {
		return nil, fmt.Errorf("tokenize prefix: %w", err)
	}
	if len(ids) == 0 {
		return nil, errdefs.InvalidInput("prefix %q has no tokens", prefix)
	}
	p := &Prefixed{model: m, length: len(ids)}
	err = WithSettings(m, ScoringSettings, func() error {
		out, err := safeForward(ctx, m, &Step{InputIDs: [][]int{ids}, AttentionMask: [][]int{ones(len(ids))}}, metrics.PathFast)
		if err != nil {
			return fmt.Errorf("prefix forward pass: %w", err)
		}
		if out.Past == nil {
			return errdefs.Precondition("model returned no attention state; enable UseCache")
		}
		p.state = out.Past
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Len returns the number of prefix tokens.
func (p *Prefixed) Len() int { return p.length }

// Release drops the prefix state. Later Forward calls fail.
func (p *Prefixed) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = nil
}

func (p *Prefixed) VocabSize() int { return p.model.VocabSize() }

func (p *Prefixed) Settings() Settings { return p.model.Settings() }

func (p *Prefixed) SetSettings(s Settings) error { return p.model.SetSettings(s) }

// Forward prepends the prefix. A step without Past gets the prefix state;
// a step with Past must carry state returned by this model, which already
// holds the prefix. Masks gain the prefix positions and explicit positions
// shift by the prefix length.
func (p *Prefixed) Forward(ctx context.Context, step *Step) (*Output, error) {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()
	if state == nil {
		return nil, errdefs.Precondition("prefix cache has been released")
	}

	past := step.Past
	if past == nil {
		var err error
		if past, err = state.RepeatInterleave([]int{len(step.InputIDs)}); err != nil {
			return nil, err
		}
	}
	mask := make([][]int, len(step.AttentionMask))
	for i, row := range step.AttentionMask {
		mask[i] = append(ones(p.length), row...)
	}
	var positions [][]int
	if step.PositionIDs != nil {
		positions = make([][]int, len(step.PositionIDs))
		for i, row := range step.PositionIDs {
			shifted := make([]int, len(row))
			for j, pos := range row {
				shifted[j] = pos + p.length
			}
			positions[i] = shifted
		}
	}
	return p.model.Forward(ctx, &Step{
		InputIDs:      step.InputIDs,
		AttentionMask: mask,
		PositionIDs:   positions,
		Past:          past,
	})
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
