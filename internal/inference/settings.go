package inference

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/samcharles93/cappr/internal/tokenizer"
)

// WithSettings applies want to m for the duration of fn. The previous
// settings are restored on every exit path, including a panic in fn.
func WithSettings(m Cached, want Settings, fn func() error) (err error) {
	prev := m.Settings()
	if err := m.SetSettings(want); err != nil {
		return fmt.Errorf("apply model settings: %w", err)
	}
	defer func() {
		if rerr := m.SetSettings(prev); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("restore model settings: %w", rerr))
		}
	}()
	return fn()
}

// WithPadding sets tok's padding side for the duration of fn when tok
// supports it. Tokenizers without a padding side run fn unchanged.
func WithPadding(tok tokenizer.Tokenizer, side tokenizer.PaddingSide, fn func() error) error {
	p, ok := tok.(tokenizer.Padded)
	if !ok {
		return fn()
	}
	prev := p.PaddingSide()
	p.SetPaddingSide(side)
	defer p.SetPaddingSide(prev)
	return fn()
}

// scoring prepares a backend for scoring: right padding, and for Cached
// models the settings every path depends on.
func scoring(be Backend, fn func() error) error {
	return WithPadding(be.Tokenizer, tokenizer.PadRight, func() error {
		if c, ok := be.Model.(Cached); ok {
			return WithSettings(c, ScoringSettings, fn)
		}
		return fn()
	})
}
