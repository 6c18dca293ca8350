package inference

import "context"

// CompletionsGivenPromptsGeneral always runs the completion forward pass.
func CompletionsGivenPromptsGeneral(ctx context.Context, be Backend, prompts, completions []string, counts Counts, repeats int) (*CompletionScores, error) {
	return completionsGivenPrompts(ctx, be, prompts, completions, counts, repeats, false)
}
