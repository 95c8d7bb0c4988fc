// Package cmd implements the changeguard CLI.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/beekhuis/changeguard/pkg/config"
	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/urfave/cli/v3"
)

var currentConfig *config.Config

// Run creates and executes the main changeguard CLI application with the
// given version and command-line arguments.
//
// Global flags:
//   - --config, -c: the changeguard config file (default changeguard.yaml,
//     also via CHANGEGUARD_CONFIG)
//   - --verbose:    enable debug logging
//
// The configuration is loaded once in Before and shared by all commands.
func Run(ctx context.Context, version string, args []string) error {
	app := &cli.Command{
		Name:  "changeguard",
		Usage: "Reconcile Liquibase changelog drift before applying migrations",
		Description: `changeguard compares the changelog files recorded in a database's
migration history against the files on disk, repairs drift from its own
content-backup ledger, and (when configured) applies any unrun changesets.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "the changeguard config file",
				Sources: cli.EnvVars("CHANGEGUARD_CONFIG"),
				Value:   consts.DefaultConfigFile,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if cmd.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))

			cfg, err := config.LoadConfigFile(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			currentConfig = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			up(),
			confirm(),
			serve(),
			status(),
		},
	}

	return app.Run(ctx, args)
}
