package remote

// completionRequest is the subset of the OpenAI /completions request used for
// scoring. MaxTokens is always sent, including 0.
type completionRequest struct {
	Model     string   `json:"model"`
	Prompt    []string `json:"prompt"`
	MaxTokens int      `json:"max_tokens"`
	LogProbs  int      `json:"logprobs"`
	Echo      bool     `json:"echo"`
	User      string   `json:"user,omitempty"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Index    int            `json:"index"`
	Text     string         `json:"text"`
	LogProbs *logprobResult `json:"logprobs"`
}

// logprobResult holds per-token log-probabilities. The first echoed token has
// no context, so the API returns null for it.
type logprobResult struct {
	Tokens        []string   `json:"tokens"`
	TokenLogprobs []*float64 `json:"token_logprobs"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
