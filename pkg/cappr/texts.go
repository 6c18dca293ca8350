package cappr

import (
	"strings"
	"unicode"

	"github.com/samcharles93/cappr/internal/errdefs"
)

// ToTexts converts decoded input into a list of texts. A bare string is
// rejected rather than treated as one text.
func ToTexts(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return nil, ErrNotSequence
	case []string:
		return t, nil
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errdefs.InvalidInput("item %d is %T, not a string", i, item)
			}
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, errdefs.InvalidInput("texts are required")
	default:
		return nil, errdefs.InvalidInput("expected a list of texts, got %T", v)
	}
}

// joinCompletions prefixes each completion with endOfPrompt after dropping its
// leading whitespace.
func joinCompletions(endOfPrompt string, completions []string) []string {
	out := make([]string, len(completions))
	for i, c := range completions {
		out[i] = endOfPrompt + strings.TrimLeftFunc(c, unicode.IsSpace)
	}
	return out
}

func checkTexts(name string, texts []string) error {
	if len(texts) == 0 {
		return errdefs.InvalidInput("%s must be non-empty", name)
	}
	for i, t := range texts {
		if t == "" {
			return errdefs.InvalidInput("%s[%d] is empty", name, i)
		}
	}
	return nil
}
