// Package cappr scores prompt-completion pairs with a language model and turns
// the scores into classification probabilities.
//
// A completion's score is the model's conditional log-probability of its
// tokens given the prompt. For models that return reusable attention state,
// each prompt is run once and its state is shared by every completion scored
// against it.
package cappr

import (
	"context"
	"sync"

	"github.com/samcharles93/cappr/internal/example"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/remote"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// Backend capabilities. A local model implements Batched, Cached or
// Sequential; scoring dispatches on which one it satisfies.
type (
	Model      = inference.Model
	Batched    = inference.Batched
	Cached     = inference.Cached
	Sequential = inference.Sequential
	Step       = inference.Step
	Output     = inference.Output
	State      = inference.State
	Settings   = inference.Settings
	Tokenizer  = tokenizer.Tokenizer
)

// Example is a prompt with its own completions, prior and joining policy.
type (
	Example       = example.Example
	ExampleOption = example.Option
)

var (
	NewExample         = example.New
	ExamplePrior       = example.WithPrior
	ExampleEndOfPrompt = example.WithEndOfPrompt
	ExampleNormalize   = example.WithNormalize
)

// Scorer computes conditional log-probabilities. Completions passed to it
// already begin with the string that joins them to a prompt.
type Scorer interface {
	LogProbsConditional(ctx context.Context, prompts, completions []string, batchSize int) ([][][]float64, error)
	LogProbsConditionalPairs(ctx context.Context, prompts []string, completions [][]string, batchSize int) ([][][]float64, error)
	TokenLogprobs(ctx context.Context, texts []string, batchSize int) ([][]float64, error)
}

var (
	_ Scorer = (*Local)(nil)
	_ Scorer = (*remote.Client)(nil)
)

// Local scores with an in-process model. Calls on one Local, and on the
// CachedScorers made from it, run one at a time because scoring temporarily
// changes the model's settings.
type Local struct {
	be inference.Backend
	mu *sync.Mutex
}

// NewLocal pairs a model with its tokenizer.
func NewLocal(model Model, tok Tokenizer) *Local {
	return &Local{
		be: inference.Backend{Model: model, Tokenizer: tok},
		mu: &sync.Mutex{},
	}
}

// Path names the scoring strategy the model gets: fast, nocache or
// sequential.
func (l *Local) Path() (string, error) { return inference.Path(l.be.Model) }

func (l *Local) Tokenizer() Tokenizer { return l.be.Tokenizer }

func (l *Local) LogProbsConditional(ctx context.Context, prompts, completions []string, batchSize int) ([][][]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return inference.LogProbsConditional(ctx, l.be, prompts, completions, batchSize)
}

func (l *Local) LogProbsConditionalPairs(ctx context.Context, prompts []string, completions [][]string, batchSize int) ([][][]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return inference.LogProbsConditionalPairs(ctx, l.be, prompts, completions, batchSize)
}

func (l *Local) TokenLogprobs(ctx context.Context, texts []string, batchSize int) ([][]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return inference.TokenLogprobs(ctx, l.be, texts, batchSize)
}
