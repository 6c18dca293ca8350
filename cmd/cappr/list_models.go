package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cappr/internal/logger"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List available model descriptors",
		Flags:   commonModelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyScoringConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)
			w := cmd.Root().Writer

			reg, err := newRegistry(modelPath)
			if err != nil {
				return err
			}
			models, err := reg.ListModels()
			if err != nil {
				return err
			}
			if len(models) == 0 {
				log.Info("no models found", "path", modelsPath)
				return nil
			}
			for _, m := range models {
				path, err := reg.Resolve(m)
				if err != nil {
					_, _ = fmt.Fprintf(w, "  %s\n", m)
					continue
				}
				backend := "?"
				if spec, err := loadSpec(path); err == nil {
					backend = spec.Backend
				}
				_, _ = fmt.Fprintf(w, "  %-32s %s\n", m, backend)
			}
			_, _ = fmt.Fprintf(w, "\n%d model(s) found\n", len(models))
			return nil
		},
	}
}
