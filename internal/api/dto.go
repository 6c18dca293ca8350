package api

import (
	"github.com/invopop/validation"

	"github.com/samcharles93/cappr/pkg/cappr"
)

// ExampleInput is one example of a predict_proba request.
type ExampleInput struct {
	Prompt      string    `json:"prompt"`
	Completions []string  `json:"completions"`
	Prior       []float64 `json:"prior,omitempty"`
	EndOfPrompt *string   `json:"end_of_prompt,omitempty"`
	Normalize   *bool     `json:"normalize,omitempty"`
}

func (in ExampleInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Prompt, validation.Required),
		validation.Field(&in.Completions, validation.Required, validation.Each(validation.Required)),
		validation.Field(&in.EndOfPrompt, validation.In(" ", "")),
	)
}

// Example converts the input, applying its optional overrides.
func (in ExampleInput) Example() (cappr.Example, error) {
	var opts []cappr.ExampleOption
	if in.Prior != nil {
		opts = append(opts, cappr.ExamplePrior(in.Prior))
	}
	if in.EndOfPrompt != nil {
		opts = append(opts, cappr.ExampleEndOfPrompt(*in.EndOfPrompt))
	}
	if in.Normalize != nil {
		opts = append(opts, cappr.ExampleNormalize(*in.Normalize))
	}
	return cappr.NewExample(in.Prompt, in.Completions, opts...)
}

// PredictProbaRequest scores either prompts against shared completions or a
// list of examples.
type PredictProbaRequest struct {
	Model       string         `json:"model,omitempty"`
	Prompts     any            `json:"prompts,omitempty"`
	Completions []string       `json:"completions,omitempty"`
	Prior       []float64      `json:"prior,omitempty"`
	EndOfPrompt *string        `json:"end_of_prompt,omitempty"`
	Normalize   *bool          `json:"normalize,omitempty"`
	BatchSize   int            `json:"batch_size,omitempty"`
	Examples    []ExampleInput `json:"examples,omitempty"`
}

func (r PredictProbaRequest) Validate() error {
	shared := len(r.Examples) == 0
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompts, validation.When(shared, validation.Required), validation.When(!shared, validation.Nil)),
		validation.Field(&r.Completions, validation.When(shared, validation.Required, validation.Each(validation.Required)), validation.When(!shared, validation.Empty)),
		validation.Field(&r.EndOfPrompt, validation.In(" ", "")),
		validation.Field(&r.BatchSize, validation.Min(0)),
		validation.Field(&r.Examples),
	)
}

func (r PredictProbaRequest) options() []cappr.Option {
	var opts []cappr.Option
	if r.Prior != nil {
		opts = append(opts, cappr.WithPrior(r.Prior))
	}
	if r.EndOfPrompt != nil {
		opts = append(opts, cappr.WithEndOfPrompt(*r.EndOfPrompt))
	}
	if r.Normalize != nil {
		opts = append(opts, cappr.WithNormalize(*r.Normalize))
	}
	if r.BatchSize > 0 {
		opts = append(opts, cappr.WithBatchSize(r.BatchSize))
	}
	return opts
}

type PredictProbaResponse struct {
	ID            string      `json:"id"`
	Object        string      `json:"object"`
	Created       int64       `json:"created"`
	Model         string      `json:"model,omitempty"`
	Probabilities [][]float64 `json:"probabilities"`
	Predictions   []string    `json:"predictions"`
}

// LogprobsRequest asks for conditional log-probabilities when Completions is
// set, and for per-token log-probabilities of Texts otherwise.
type LogprobsRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompts     any      `json:"prompts,omitempty"`
	Completions []string `json:"completions,omitempty"`
	Texts       any      `json:"texts,omitempty"`
	EndOfPrompt *string  `json:"end_of_prompt,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
}

func (r LogprobsRequest) Validate() error {
	conditional := len(r.Completions) > 0
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompts, validation.When(conditional, validation.Required), validation.When(!conditional, validation.Nil)),
		validation.Field(&r.Texts, validation.When(!conditional, validation.Required), validation.When(conditional, validation.Nil)),
		validation.Field(&r.Completions, validation.Each(validation.Required)),
		validation.Field(&r.EndOfPrompt, validation.In(" ", "")),
		validation.Field(&r.BatchSize, validation.Min(0)),
	)
}

func (r LogprobsRequest) options() []cappr.Option {
	var opts []cappr.Option
	if r.EndOfPrompt != nil {
		opts = append(opts, cappr.WithEndOfPrompt(*r.EndOfPrompt))
	}
	if r.BatchSize > 0 {
		opts = append(opts, cappr.WithBatchSize(r.BatchSize))
	}
	return opts
}

type LogprobsResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model,omitempty"`
	// LogProbs is [prompt][completion][token] for conditional requests and
	// [text][token] otherwise, with null for tokens that have no value.
	LogProbs any `json:"logprobs"`
}
