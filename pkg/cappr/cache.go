package cappr

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/samcharles93/cappr/internal/inference"
)

// CachedScorer scores every prompt as if it began with a fixed prefix,
// reusing the prefix's attention state instead of running it again.
type CachedScorer struct {
	*Local
	prefix   string
	prefixed *inference.Prefixed
}

// NewCachedScorer runs prefix through l's model once. The model must return
// reusable attention state. Close releases the state.
func NewCachedScorer(ctx context.Context, l *Local, prefix string) (*CachedScorer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := inference.NewPrefixed(ctx, l.be, prefix)
	if err != nil {
		return nil, fmt.Errorf("cache prefix: %w", err)
	}
	return &CachedScorer{
		Local:    &Local{be: inference.Backend{Model: p, Tokenizer: l.be.Tokenizer}, mu: l.mu},
		prefix:   prefix,
		prefixed: p,
	}, nil
}

// Prefix returns the cached text.
func (c *CachedScorer) Prefix() string { return c.prefix }

// Close releases the prefix state. Scoring afterwards fails.
func (c *CachedScorer) Close() error {
	c.prefixed.Release()
	return nil
}

// Cache runs fn with a scorer that prepends prefix to every prompt. The prefix
// state is released when fn returns. With WithRetain and a nil error from fn
// the scorer is returned instead, and the caller must Close it.
func Cache(ctx context.Context, l *Local, prefix string, fn func(*CachedScorer) error, opts ...Option) (_ *CachedScorer, err error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	c, err := NewCachedScorer(ctx, l, prefix)
	if err != nil {
		return nil, err
	}
	keep := false
	defer func() {
		if !keep {
			err = multierr.Append(err, c.Close())
		}
	}()
	if err := fn(c); err != nil {
		return nil, err
	}
	if !o.retain {
		return nil, nil
	}
	keep = true
	return c, nil
}
