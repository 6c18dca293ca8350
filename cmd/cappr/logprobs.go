package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/pkg/cappr"
)

func logprobsCmd() *cli.Command {
	var (
		texts       []string
		prompts     []string
		completions []string
		output      string
	)

	flags := append(commonModelFlags(), scoringFlags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:        "text",
			Aliases:     []string{"t"},
			Usage:       "text whose tokens are scored (repeatable)",
			Destination: &texts,
		},
		&cli.StringSliceFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt (repeatable)",
			Destination: &prompts,
		},
		&cli.StringSliceFlag{
			Name:        "completion",
			Aliases:     []string{"c"},
			Usage:       "completion scored after every prompt (repeatable)",
			Destination: &completions,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output format (table, json)",
			Value:       outputTable,
			Destination: &output,
		},
	)

	return &cli.Command{
		Name:  "logprobs",
		Usage: "Print token log-probabilities of texts or of completions given prompts",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyScoringConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)

			if output != outputTable && output != outputJSON {
				return fmt.Errorf("unknown output format %q", output)
			}
			conditional := len(texts) == 0
			if conditional && (len(prompts) == 0 || len(completions) == 0) {
				return errdefs.InvalidInput("set --text, or --prompt and --completion")
			}
			if !conditional && (len(prompts) > 0 || len(completions) > 0) {
				return errdefs.InvalidInput("--text cannot be combined with --prompt or --completion")
			}
			opts := []cappr.Option{
				cappr.WithEndOfPrompt(endOfPrompt),
				cappr.WithBatchSize(int(batchSize)),
			}

			reg, err := newRegistry(modelPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := reg.Close(); err != nil {
					log.Warn("close models", "error", err)
				}
			}()

			var rows []logprobRow
			err = reg.With(ctx, "", func(s cappr.Scorer) error {
				if !conditional {
					lps, err := cappr.TokenLogprobs(ctx, s, texts, opts...)
					if err != nil {
						return err
					}
					for i, lp := range lps {
						rows = append(rows, logprobRow{Text: texts[i], LogProbs: nullable(lp)})
					}
					return nil
				}
				lps, err := cappr.LogProbsConditional(ctx, s, prompts, completions, opts...)
				if err != nil {
					return err
				}
				for i, perPrompt := range lps {
					for j, lp := range perPrompt {
						rows = append(rows, logprobRow{
							Prompt:     prompts[i],
							Completion: completions[j],
							LogProbs:   nullable(lp),
						})
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if output == outputJSON {
				return writeJSON(cmd.Root().Writer, rows)
			}
			renderLogprobs(cmd.Root().Writer, rows, conditional)
			return nil
		},
	}
}

type logprobRow struct {
	Text       string     `json:"text,omitempty"`
	Prompt     string     `json:"prompt,omitempty"`
	Completion string     `json:"completion,omitempty"`
	LogProbs   []*float64 `json:"logprobs"`
}

// nullable maps the no-value sentinel to JSON null.
func nullable(lps []float64) []*float64 {
	out := make([]*float64, len(lps))
	for i, v := range lps {
		if !math.IsNaN(v) {
			out[i] = &v
		}
	}
	return out
}

func renderLogprobs(w io.Writer, rows []logprobRow, conditional bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	if conditional {
		tw.AppendHeader(table.Row{"prompt", "completion", "logprobs"})
	} else {
		tw.AppendHeader(table.Row{"text", "logprobs"})
	}
	for _, r := range rows {
		parts := make([]string, len(r.LogProbs))
		for i, v := range r.LogProbs {
			if v == nil {
				parts[i] = "-"
				continue
			}
			parts[i] = formatProb(*v)
		}
		lp := strings.Join(parts, " ")
		if conditional {
			tw.AppendRow(table.Row{r.Prompt, r.Completion, lp})
		} else {
			tw.AppendRow(table.Row{r.Text, lp})
		}
	}
	tw.Render()
}
