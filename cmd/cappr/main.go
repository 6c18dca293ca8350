package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samcharles93/cappr/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:                      "cappr",
		Usage:                     "Zero-shot text classification by completion probabilities",
		Writer:                    stdout,
		ErrWriter:                 stderr,
		DisableSliceFlagSeparator: true,
		Flags:                     loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			applyLoggingConfig(cmd, LoadConfig())
			level := slog.LevelDebug
			if !debug {
				var err error
				if level, err = logger.ParseLevel(logLevel); err != nil {
					return ctx, err
				}
			}
			log, err := logger.Open(logFormat, stderr, level)
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			predictCmd(),
			logprobsCmd(),
			listModelsCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}
