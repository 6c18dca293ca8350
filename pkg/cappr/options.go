package cappr

import (
	"github.com/samcharles93/cappr/internal/classify"
	"github.com/samcharles93/cappr/internal/errdefs"
)

const DefaultBatchSize = 32

// AggFunc reduces a completion's token log-probabilities to one number.
type AggFunc = classify.AggFunc

var (
	Mean AggFunc = classify.Mean
	Sum  AggFunc = classify.Sum
)

type options struct {
	endOfPrompt string
	batchSize   int
	prior       []float64
	normalize   bool
	agg         AggFunc
	retain      bool
}

func defaultOptions() options {
	return options{
		endOfPrompt: " ",
		batchSize:   DefaultBatchSize,
		normalize:   true,
		agg:         Mean,
	}
}

// Option configures a scoring call.
type Option func(*options)

// WithEndOfPrompt sets what goes between a prompt and each completion: " "
// (the default) or "".
func WithEndOfPrompt(s string) Option { return func(o *options) { o.endOfPrompt = s } }

// WithBatchSize sets how many prompts go through the model at once.
func WithBatchSize(n int) Option { return func(o *options) { o.batchSize = n } }

// WithPrior weights the completions before normalization.
func WithPrior(prior []float64) Option {
	return func(o *options) { o.prior = append([]float64(nil), prior...) }
}

// WithNormalize controls whether probabilities are rescaled to sum to 1. Turn
// it off when completions are not mutually exclusive.
func WithNormalize(normalize bool) Option { return func(o *options) { o.normalize = normalize } }

// WithAggFunc sets how token log-probabilities are combined. The default is
// Mean.
func WithAggFunc(fn AggFunc) Option { return func(o *options) { o.agg = fn } }

// WithRetain keeps a Cache's prefix state after its function returns.
func WithRetain(retain bool) Option { return func(o *options) { o.retain = retain } }

func resolve(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.endOfPrompt != " " && o.endOfPrompt != "" {
		return o, errdefs.InvalidInput("end of prompt must be \" \" or \"\", got %q", o.endOfPrompt)
	}
	if o.batchSize < 1 {
		return o, errdefs.InvalidInput("batch size must be at least 1, got %d", o.batchSize)
	}
	if o.agg == nil {
		o.agg = Mean
	}
	if o.prior != nil {
		if err := classify.CheckPrior(o.prior); err != nil {
			return o, err
		}
	}
	return o, nil
}
