package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cappr/internal/api"
	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/pkg/cappr"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func predictCmd() *cli.Command {
	var (
		prompts     []string
		completions []string
		prior       []float64
		normalize   bool
		inputPath   string
		prefix      string
		output      string
	)

	flags := append(commonModelFlags(), scoringFlags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt to classify (repeatable)",
			Destination: &prompts,
		},
		&cli.StringSliceFlag{
			Name:        "completion",
			Aliases:     []string{"c"},
			Usage:       "candidate completion (repeatable)",
			Destination: &completions,
		},
		&cli.FloatSliceFlag{
			Name:        "prior",
			Usage:       "prior probability per completion (repeatable)",
			Destination: &prior,
		},
		&cli.BoolFlag{
			Name:        "normalize",
			Usage:       "normalize probabilities across completions",
			Value:       true,
			Destination: &normalize,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       `JSON file of examples ("-" for stdin)`,
			TakesFile:   true,
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "shared text prepended to every prompt and cached once",
			Destination: &prefix,
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
		Name:  "predict",
		Usage: "Predict the most likely completion for each prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyScoringConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)

			if output != outputTable && output != outputJSON {
				return fmt.Errorf("unknown output format %q", output)
			}
			opts := []cappr.Option{
				cappr.WithEndOfPrompt(endOfPrompt),
				cappr.WithBatchSize(int(batchSize)),
				cappr.WithNormalize(normalize),
			}
			if len(prior) > 0 {
				opts = append(opts, cappr.WithPrior(prior))
			}

			var (
				rows  []predictionRow
				score func(cappr.Scorer) (*cappr.Probabilities, error)
			)
			if inputPath != "" {
				examples, err := readExamples(cmd.Root().Reader, inputPath)
				if err != nil {
					return err
				}
				for _, ex := range examples {
					rows = append(rows, predictionRow{Prompt: ex.Prompt(), Completions: ex.Completions()})
				}
				score = func(s cappr.Scorer) (*cappr.Probabilities, error) {
					return cappr.PredictProbaExamples(ctx, s, examples, cappr.WithBatchSize(int(batchSize)))
				}
			} else {
				if len(prompts) == 0 || len(completions) == 0 {
					return errdefs.InvalidInput("--prompt and --completion are required unless --input is set")
				}
				for _, p := range prompts {
					rows = append(rows, predictionRow{Prompt: p, Completions: completions})
				}
				score = func(s cappr.Scorer) (*cappr.Probabilities, error) {
					return cappr.PredictProba(ctx, s, prompts, completions, opts...)
				}
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

			var probs *cappr.Probabilities
			err = reg.With(ctx, "", func(s cappr.Scorer) error {
				var err error
				if prefix == "" {
					probs, err = score(s)
					return err
				}
				local, ok := s.(*cappr.Local)
				if !ok {
					return errdefs.Precondition("--prefix needs a local model, got %T", s)
				}
				_, err = cappr.Cache(ctx, local, prefix, func(c *cappr.CachedScorer) error {
					var err error
					probs, err = score(c)
					return err
				})
				return err
			})
			if err != nil {
				return err
			}

			best := probs.Argmax()
			for i, p := range probs.Rows() {
				rows[i].Probabilities = p
				rows[i].Prediction = rows[i].Completions[best[i]]
			}
			if output == outputJSON {
				return writeJSON(cmd.Root().Writer, rows)
			}
			renderPredictions(cmd.Root().Writer, rows, inputPath == "")
			return nil
		},
	}
}

type predictionRow struct {
	Prompt        string    `json:"prompt"`
	Completions   []string  `json:"completions"`
	Probabilities []float64 `json:"probabilities"`
	Prediction    string    `json:"prediction"`
}

func readExamples(stdin io.Reader, path string) ([]cappr.Example, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	var inputs []api.ExampleInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, errdefs.InvalidInput("parse examples: %v", err)
	}
	if len(inputs) == 0 {
		return nil, errdefs.InvalidInput("%s holds no examples", path)
	}
	examples := make([]cappr.Example, len(inputs))
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, errdefs.InvalidInput("example %d: %v", i, err)
		}
		if examples[i], err = in.Example(); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
	}
	return examples, nil
}

// renderPredictions writes one row per prompt. Shared completions become
// columns; examples list their probabilities inline.
func renderPredictions(w io.Writer, rows []predictionRow, shared bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	if shared && len(rows) > 0 {
		header := table.Row{"prompt"}
		for _, c := range rows[0].Completions {
			header = append(header, c)
		}
		tw.AppendHeader(append(header, "prediction"))
		for _, r := range rows {
			row := table.Row{r.Prompt}
			for _, p := range r.Probabilities {
				row = append(row, formatProb(p))
			}
			tw.AppendRow(append(row, r.Prediction))
		}
	} else {
		tw.AppendHeader(table.Row{"prompt", "completion", "probability", "prediction"})
		for _, r := range rows {
			for j, c := range r.Completions {
				pred := ""
				if c == r.Prediction {
					pred = "*"
				}
				tw.AppendRow(table.Row{r.Prompt, c, formatProb(r.Probabilities[j]), pred})
			}
			tw.AppendSeparator()
		}
	}
	tw.Render()
}

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'f', 4, 64)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
