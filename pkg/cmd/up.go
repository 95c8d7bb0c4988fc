package cmd

import (
	"context"
	"log/slog"

	"github.com/beekhuis/changeguard/pkg/upgrader"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// up creates the up command for running the full upgrade sequence.
//
// For every configured datasource, in order: ensure the content ledger
// exists, reconcile changelog drift (non-destructively), and — when the
// datasource has auto_apply enabled — tag the current state, test the
// rollback, apply unrun changesets and record their contents in the ledger.
//
// If drift requires a destructive rollback, the command stops and tells the
// operator to run `changeguard confirm`.
func up() *cli.Command {
	return &cli.Command{
		Name:  "up",
		Usage: "Reconcile drift and apply unrun changesets",
		Description: `Run the upgrade sequence for every configured datasource.

Drift repair that would rewrite migration history (a missing changelog file
reconstructed from the ledger) is never performed unattended; the command
stops and asks for an explicit 'changeguard confirm' instead.

Auto-apply to a production environment is categorically refused.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return eachDatasource(currentConfig, func(rt *runtime) error {
				result, err := rt.upg.Run(ctx)
				if err != nil {
					return err
				}

				if result.Status == upgrader.StatusNeedsConfirmation {
					return errors.Errorf(
						"datasource %s: changelog %s is missing and must be rolled back from the ledger; run 'changeguard confirm' to proceed",
						rt.ds.Name, result.Filename)
				}

				slog.Info("datasource processed", "datasource", rt.ds.Name, "status", string(result.Status))
				return nil
			})
		},
	}
}
