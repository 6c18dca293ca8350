// Package example defines Example, a prompt bundled with its completions and
// scoring options.
package example

import (
	"strings"

	"github.com/samcharles93/cappr/internal/classify"
	"github.com/samcharles93/cappr/internal/errdefs"
)

// Example is immutable once constructed; New validates every field.
type Example struct {
	prompt      string
	completions []string
	prior       []float64
	endOfPrompt string
	normalize   bool
}

// Option configures an Example.
type Option func(*Example)

// WithPrior sets a prior over the completions.
func WithPrior(prior []float64) Option {
	return func(e *Example) { e.prior = append([]float64(nil), prior...) }
}

// WithEndOfPrompt sets the string placed between the prompt and each
// completion. It must be " " or "".
func WithEndOfPrompt(s string) Option {
	return func(e *Example) { e.endOfPrompt = s }
}

// WithNormalize controls whether posteriors are rescaled to sum to 1.
func WithNormalize(normalize bool) Option {
	return func(e *Example) { e.normalize = normalize }
}

// New builds and validates an Example.
func New(prompt string, completions []string, opts ...Option) (Example, error) {
	e := Example{
		prompt:      prompt,
		completions: append([]string(nil), completions...),
		endOfPrompt: " ",
		normalize:   true,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.validate(); err != nil {
		return Example{}, err
	}
	return e, nil
}

func (e *Example) validate() error {
	if e.prompt == "" {
		return errdefs.InvalidInput("prompt must be non-empty")
	}
	if len(e.completions) == 0 {
		return errdefs.InvalidInput("completions must be non-empty")
	}
	for i, c := range e.completions {
		if strings.TrimSpace(c) == "" {
			return errdefs.InvalidInput("completion %d is empty", i)
		}
	}
	if e.endOfPrompt != " " && e.endOfPrompt != "" {
		return errdefs.InvalidInput("end_of_prompt must be a whitespace or empty, got %q", e.endOfPrompt)
	}
	if e.prior != nil {
		if err := classify.CheckPrior(e.prior); err != nil {
			return err
		}
		if len(e.prior) != len(e.completions) {
			return errdefs.InvalidInput("completions and prior are different lengths: %d, %d", len(e.completions), len(e.prior))
		}
	}
	return nil
}

func (e Example) Prompt() string { return e.prompt }

// Completions returns a copy of the completions.
func (e Example) Completions() []string { return append([]string(nil), e.completions...) }

// NumCompletions returns len(Completions()) without copying.
func (e Example) NumCompletions() int { return len(e.completions) }

// Prior returns a copy of the prior, or nil for a uniform prior.
func (e Example) Prior() []float64 {
	if e.prior == nil {
		return nil
	}
	return append([]float64(nil), e.prior...)
}

func (e Example) EndOfPrompt() string { return e.endOfPrompt }

func (e Example) Normalize() bool { return e.normalize }
