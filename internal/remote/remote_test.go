package remote

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logprobs"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

var testTokenizer = tokenizer.TrainWordTokenizer([]string{
	"In a hole in the ground there lived a hobbit.",
	"cherry coke",
})

// fakeAPI echoes prompts back with log-prob -j for token j.
type fakeAPI struct {
	mu       sync.Mutex
	requests []completionRequest
	auth     []string
	failures []int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, req)
	if len(f.failures) > 0 {
		code := f.failures[0]
		f.failures = f.failures[1:]
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":{"message":"try later","type":"server_error"}}`))
		return
	}
	var resp completionResponse
	for i, p := range req.Prompt {
		ids, _ := testTokenizer.Encode(p)
		lps := make([]*float64, len(ids))
		for j := 1; j < len(ids); j++ {
			v := -float64(j)
			lps[j] = &v
		}
		resp.Choices = append(resp.Choices, completionChoice{Index: i, Text: p, LogProbs: &logprobResult{TokenLogprobs: lps}})
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, api *fakeAPI, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/"
	cfg.Model = "test-model"
	cfg.APIKey = "sk-test"
	cfg.Tokenizer = testTokenizer
	cfg.Backoff = time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestTokenLogprobsBatchesAndEchoes(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api, Config{})
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = "In a hole"
	}
	got, err := c.TokenLogprobs(context.Background(), texts, 100)
	if err != nil {
		t.Fatalf("TokenLogprobs: %v", err)
	}
	if len(api.requests) != 2 || len(api.requests[0].Prompt) != MaxBatchSize || len(api.requests[1].Prompt) != 5 {
		t.Fatalf("unexpected request batching: %d requests", len(api.requests))
	}
	req := api.requests[0]
	if req.MaxTokens != 0 || req.LogProbs != 1 || !req.Echo || req.Model != "test-model" || req.User == "" {
		t.Fatalf("unexpected request %+v", req)
	}
	if api.auth[0] != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", api.auth[0])
	}
	if len(got) != 25 || !logprobs.IsNoValue(got[24][0]) {
		t.Fatalf("unexpected result %v", got)
	}
	if diff := cmp.Diff([]float64{-1, -2}, got[24][1:]); diff != "" {
		t.Fatalf("log-probs mismatch (-want +got):\n%s", diff)
	}
}

func TestLogProbsConditionalTakesCompletionTail(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{}, Config{})
	ctx := context.Background()
	got, err := c.LogProbsConditional(ctx, []string{"In a hole in", "a"}, []string{" the ground", " hobbit."}, 20)
	if err != nil {
		t.Fatalf("LogProbsConditional: %v", err)
	}
	want := [][][]float64{
		{{-4, -5}, {-4}},
		{{-1, -2}, {-1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	pairs, err := c.LogProbsConditionalPairs(ctx, []string{"In a hole in", "a"}, [][]string{{" the ground"}, {" hobbit.", " the"}}, 1)
	if err != nil {
		t.Fatalf("LogProbsConditionalPairs: %v", err)
	}
	wantPairs := [][][]float64{{{-4, -5}}, {{-1}, {-1}}}
	if diff := cmp.Diff(wantPairs, pairs); diff != "" {
		t.Fatalf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		failures      []int
		maxAttempts   int
		wantRequests  int
		wantPermanent bool
		wantErr       bool
	}{
		{name: "recovers", failures: []int{503, 429}, maxAttempts: 5, wantRequests: 3},
		{name: "exhausted", failures: []int{500, 502, 504}, maxAttempts: 3, wantRequests: 3, wantErr: true},
		{name: "unauthorized", failures: []int{401}, maxAttempts: 5, wantRequests: 1, wantErr: true, wantPermanent: true},
		{name: "bad request", failures: []int{400}, maxAttempts: 5, wantRequests: 1, wantErr: true, wantPermanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeAPI{failures: tt.failures}
			c := newTestClient(t, api, Config{MaxAttempts: tt.maxAttempts})
			_, err := c.TokenLogprobs(context.Background(), []string{"cherry coke"}, 1)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(api.requests) != tt.wantRequests {
				t.Fatalf("requests = %d, want %d", len(api.requests), tt.wantRequests)
			}
			if got := errors.Is(err, errdefs.ErrPermanent); got != tt.wantPermanent {
				t.Fatalf("errors.Is(err, ErrPermanent) = %v, want %v (%v)", got, tt.wantPermanent, err)
			}
			if err != nil {
				var se *StatusError
				if !errors.As(err, &se) || se.Message != "try later" {
					t.Fatalf("expected StatusError with message, got %v", err)
				}
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	est, err := EstimateCost(testTokenizer, []string{"cherry", "coke"}, 5, 1, 2)
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	if est.PromptTokens != 2 || est.CompletionTokens != 10 {
		t.Fatalf("tokens = %d/%d", est.PromptTokens, est.CompletionTokens)
	}
	if math.Abs(est.Cost-0.022) > 1e-12 {
		t.Fatalf("cost = %v", est.Cost)
	}
	want := "This API call will cost about $0.02 (≤12 tokens). Proceed? (y/n): "
	if got := est.Message(); got != want {
		t.Fatalf("Message() = %q, want %q", got, want)
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cost   float64
		tokens int
		want   string
	}{
		{0, 0, "$0.0 (≤0 tokens)"},
		{0.1, 999, "$0.1 (≤999 tokens)"},
		{12.346, 1000, "$12.35 (≤1_000 tokens)"},
		{3, 1234567, "$3.0 (≤1_234_567 tokens)"},
	}
	for _, tt := range tests {
		got := "$" + formatCost(tt.cost) + " (≤" + groupDigits(tt.tokens) + " tokens)"
		if got != tt.want {
			t.Errorf("cost %v tokens %d = %q, want %q", tt.cost, tt.tokens, got, tt.want)
		}
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		answer  string
		wantErr error
	}{
		{"y\n", nil},
		{"y", nil},
		{"n\n", errdefs.ErrUserCanceled},
		{"yes\n", errdefs.ErrUserCanceled},
		{"", errdefs.ErrUserCanceled},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		g := &Gate{In: strings.NewReader(tt.answer), Out: &out}
		err := g.Confirm(context.Background(), Estimate{PromptTokens: 3})
		if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
			t.Errorf("answer %q: err = %v, want %v", tt.answer, err, tt.wantErr)
		}
		if !strings.HasPrefix(out.String(), "This API call will cost about $0.0 (≤3 tokens).") {
			t.Errorf("answer %q: prompt = %q", tt.answer, out.String())
		}
	}
}

func TestGateKeepsBufferedAnswers(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	g := &Gate{In: strings.NewReader("y\nn\ny\n"), Out: &out}
	want := []error{nil, errdefs.ErrUserCanceled, nil}
	for i, w := range want {
		err := g.Confirm(context.Background(), Estimate{PromptTokens: 3})
		if !errors.Is(err, w) || (w == nil && err != nil) {
			t.Fatalf("answer %d: err = %v, want %v", i, err, w)
		}
	}
}

func TestDeclinedCallSendsNothing(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api, Config{AskIfOK: true, In: strings.NewReader("n\n"), Out: &bytes.Buffer{}})
	_, err := c.LogProbsConditional(context.Background(), []string{"cherry"}, []string{" coke"}, 20)
	if !errors.Is(err, errdefs.ErrUserCanceled) {
		t.Fatalf("expected ErrUserCanceled, got %v", err)
	}
	if len(api.requests) != 0 {
		t.Fatalf("sent %d requests after the user declined", len(api.requests))
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Tokenizer: testTokenizer}); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("missing model: %v", err)
	}
	if _, err := New(Config{Model: "m"}); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("missing tokenizer: %v", err)
	}
}
