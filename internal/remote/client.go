// Package remote scores texts with an OpenAI-compatible /completions
// endpoint by echoing the prompt back with per-token log-probabilities.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/internal/metrics"
	"github.com/samcharles93/cappr/internal/tokenizer"
	"github.com/samcharles93/cappr/internal/version"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	// MaxBatchSize is the most prompts sent in one request.
	MaxBatchSize = 20
)

// Config configures a Client. Zero values take defaults.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Tokenizer must match the remote model. It sizes completions and
	// estimates cost.
	Tokenizer tokenizer.Tokenizer

	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration

	// AskIfOK asks for confirmation before each scoring call.
	AskIfOK              bool
	PricePer1kPrompt     float64
	PricePer1kCompletion float64
	In                   io.Reader
	Out                  io.Writer

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.Out == nil {
		c.Out = os.Stderr
	}
	return c
}

// Client talks to one model on one endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	gate *Gate
	user string
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		return nil, errdefs.InvalidInput("remote model name is required")
	}
	if cfg.Tokenizer == nil {
		return nil, errdefs.InvalidInput("remote model %q needs a tokenizer", cfg.Model)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{
		cfg:  cfg,
		http: hc,
		user: uuid.NewString(),
	}
	if cfg.AskIfOK {
		c.gate = &Gate{In: cfg.In, Out: cfg.Out}
	}
	return c, nil
}

// Model returns the remote model name.
func (c *Client) Model() string { return c.cfg.Model }

// Tokenizer returns the tokenizer that matches the remote model.
func (c *Client) Tokenizer() tokenizer.Tokenizer { return c.cfg.Tokenizer }

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completions API returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("completions API returned %d: %s", e.Code, e.Message)
}

// Unwrap marks client errors that a retry cannot fix as permanent.
func (e *StatusError) Unwrap() error {
	if retryableStatus(e.Code) {
		return nil
	}
	return errdefs.ErrPermanent
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// complete sends one /completions request, retrying transient failures with
// exponential backoff.
func (c *Client) complete(ctx context.Context, prompts []string) (*completionResponse, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.cfg.Model,
		Prompt:    prompts,
		MaxTokens: 0,
		LogProbs:  1,
		Echo:      true,
		User:      c.user,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	log := logger.FromContext(ctx)
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), retry.NewExponential(c.cfg.Backoff))
	var (
		resp     *completionResponse
		attempts int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			metrics.RemoteRetries.Inc()
		}
		var err error
		resp, err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !retryableStatus(se.Code) {
			return err
		}
		if !errors.As(err, &se) && !transient(err) {
			return err
		}
		log.Warn("completions request failed", "attempt", attempts, "max_attempts", c.cfg.MaxAttempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		metrics.RemoteRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("completions request failed after %d attempts: %w", attempts, err)
	}
	metrics.RemoteRequests.WithLabelValues("ok").Inc()
	if len(resp.Choices) != len(prompts) {
		return nil, errdefs.Permanent("sent %d prompts but got %d choices", len(prompts), len(resp.Choices))
	}
	return resp, nil
}

func transient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func (c *Client) post(ctx context.Context, body []byte) (*completionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		se := &StatusError{Code: res.StatusCode}
		var ae apiError
		if json.Unmarshal(data, &ae) == nil {
			se.Message = ae.Error.Message
		}
		return nil, se
	}
	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errdefs.Permanent("decode completions response: %v", err)
	}
	return &out, nil
}
