package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/internal/registry"
	"github.com/samcharles93/cappr/internal/remote"
	"github.com/samcharles93/cappr/internal/tokenizer"
	"github.com/samcharles93/cappr/internal/toy"
	"github.com/samcharles93/cappr/pkg/cappr"
	"gopkg.in/yaml.v3"
)

const (
	backendNGram       = "ngram"
	backendTransformer = "transformer"
	backendSequential  = "sequential"
	backendOpenAI      = "openai"
)

// ModelSpec is a model descriptor (<models dir>/<name>.yaml).
//
// Local backends train a word tokenizer on the corpus unless tokenizer_json
// points at a Hugging Face BPE tokenizer. Relative paths are resolved
// against the descriptor's directory.
type ModelSpec struct {
	Backend       string   `yaml:"backend"`
	Corpus        []string `yaml:"corpus"`
	CorpusFile    string   `yaml:"corpus_file"`
	TokenizerJSON string   `yaml:"tokenizer_json"`
	Order         int      `yaml:"order"`
	Seed          int64    `yaml:"seed"`
	Hidden        int      `yaml:"hidden"`
	Layers        int      `yaml:"layers"`

	OpenAI *OpenAISpec `yaml:"openai"`

	dir string
}

// OpenAISpec configures an OpenAI-compatible completions endpoint.
type OpenAISpec struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	AskIfOK   bool   `yaml:"ask_if_ok"`

	PricePer1kPrompt     float64 `yaml:"price_per_1k_prompt"`
	PricePer1kCompletion float64 `yaml:"price_per_1k_completion"`
	MaxAttempts          int     `yaml:"max_attempts"`
}

func loadSpec(path string) (ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelSpec{}, err
	}
	var spec ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return ModelSpec{}, fmt.Errorf("parse model descriptor %s: %w", path, err)
	}
	spec.dir = filepath.Dir(path)
	if spec.Backend == "" {
		spec.Backend = backendNGram
	}
	if spec.Order == 0 {
		spec.Order = 3
	}
	return spec, nil
}

func (s ModelSpec) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dir, p)
}

func (s ModelSpec) corpus() ([]string, error) {
	texts := append([]string(nil), s.Corpus...)
	if s.CorpusFile != "" {
		data, err := os.ReadFile(s.path(s.CorpusFile))
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				texts = append(texts, line)
			}
		}
	}
	return texts, nil
}

// vocabTokenizer is a tokenizer that knows its vocabulary size, which the
// local backends size their output layer from.
type vocabTokenizer interface {
	tokenizer.Tokenizer
	VocabSize() int
}

func (s ModelSpec) tokenizer(corpus []string) (vocabTokenizer, error) {
	if s.TokenizerJSON != "" {
		tok, err := tokenizer.LoadBPE(s.path(s.TokenizerJSON))
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		return tok, nil
	}
	if len(corpus) == 0 {
		return nil, errdefs.InvalidInput("%s backend needs a corpus or tokenizer_json", s.Backend)
	}
	return tokenizer.TrainWordTokenizer(corpus), nil
}

// loadScorer builds the scorer a descriptor describes. The returned scorer
// is safe for concurrent use.
func loadScorer(ctx context.Context, spec ModelSpec) (cappr.Scorer, error) {
	log := logger.FromContext(ctx)

	if spec.Backend == backendOpenAI {
		return loadRemote(spec)
	}

	corpus, err := spec.corpus()
	if err != nil {
		return nil, err
	}
	tok, err := spec.tokenizer(corpus)
	if err != nil {
		return nil, err
	}

	var model cappr.Model
	switch spec.Backend {
	case backendNGram, backendSequential:
		if len(corpus) == 0 {
			return nil, errdefs.InvalidInput("%s backend needs a corpus", spec.Backend)
		}
		ng, err := toy.TrainNGram(tok, tok.VocabSize(), spec.Order, corpus)
		if err != nil {
			return nil, err
		}
		model = ng
		if spec.Backend == backendSequential {
			model = toy.NewSequential(ng)
		}
	case backendTransformer:
		tr, err := toy.NewTransformer(toy.Config{
			Vocab:  tok.VocabSize(),
			Hidden: spec.Hidden,
			Layers: spec.Layers,
			Seed:   spec.Seed,
		})
		if err != nil {
			return nil, err
		}
		model = tr
	default:
		return nil, errdefs.InvalidInput("unknown backend %q", spec.Backend)
	}

	local := cappr.NewLocal(model, tok)
	path, err := local.Path()
	if err != nil {
		return nil, err
	}
	log.Debug("loaded local model", "backend", spec.Backend, "path", path, "vocab", tok.VocabSize())
	return local, nil
}

func loadRemote(spec ModelSpec) (cappr.Scorer, error) {
	if spec.OpenAI == nil {
		return nil, errdefs.InvalidInput("openai backend needs an openai section")
	}
	if spec.TokenizerJSON == "" {
		return nil, errdefs.InvalidInput("openai backend needs tokenizer_json")
	}
	tok, err := tokenizer.LoadBPE(spec.path(spec.TokenizerJSON))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	keyEnv := spec.OpenAI.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	client, err := remote.New(remote.Config{
		BaseURL:              spec.OpenAI.BaseURL,
		APIKey:               os.Getenv(keyEnv),
		Model:                spec.OpenAI.Model,
		Tokenizer:            tok,
		MaxAttempts:          spec.OpenAI.MaxAttempts,
		AskIfOK:              spec.OpenAI.AskIfOK,
		PricePer1kPrompt:     spec.OpenAI.PricePer1kPrompt,
		PricePer1kCompletion: spec.OpenAI.PricePer1kCompletion,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newRegistry builds the model cache shared by every command. defaultModel
// may be a descriptor path or a name in the models directory.
func newRegistry(defaultModel string) (*registry.Registry[cappr.Scorer], error) {
	cfg := registry.Config[cappr.Scorer]{
		ModelsPath: modelsPath,
		Load: func(ctx context.Context, path string) (cappr.Scorer, error) {
			spec, err := loadSpec(path)
			if err != nil {
				return nil, err
			}
			return loadScorer(ctx, spec)
		},
	}
	if defaultModel != "" {
		path, err := registry.New(cfg).Resolve(defaultModel)
		if err != nil {
			return nil, err
		}
		cfg.DefaultModelPath = path
	}
	return registry.New(cfg), nil
}
