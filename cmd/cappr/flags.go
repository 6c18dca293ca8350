package main

import "github.com/urfave/cli/v3"

var (
	modelPath   string
	modelsPath  string
	batchSize   int64
	endOfPrompt string
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model descriptor (.yaml path or name in --models-path)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing .yaml model descriptors",
			Sources:     cli.EnvVars("CAPPR_MODELS_DIR"),
			Destination: &modelsPath,
		},
	}
}

func scoringFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "prompts processed per forward pass",
			Value:       32,
			Destination: &batchSize,
		},
		&cli.StringFlag{
			Name:        "end-of-prompt",
			Usage:       `string between prompt and completion ("" or " ")`,
			Value:       " ",
			Destination: &endOfPrompt,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
