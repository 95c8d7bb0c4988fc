package cmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// confirm creates the confirm command: the operator-facing confirmation gate.
//
// It re-runs reconciliation for every configured datasource with destructive
// rollback permitted, so that missing changelog files found during a normal
// `up` pass can be reconstructed from the ledger and rolled back.
func confirm() *cli.Command {
	return &cli.Command{
		Name:  "confirm",
		Usage: "Confirm and roll back drifted changelogs",
		Description: `Re-run reconciliation with destructive rollback permitted.

A missing changelog file that still has a ledger backup is reconstructed,
rolled back to its recorded tag through a temporary master scoped to that
single file, and then removed along with its ledger entry. Run 'changeguard
up' afterwards to resume the upgrade.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return confirmAll(ctx)
		},
	}
}

// confirmAll performs the destructive reconciliation pass for every
// datasource. Shared with the serve command's rollback endpoint.
func confirmAll(ctx context.Context) error {
	return eachDatasource(currentConfig, func(rt *runtime) error {
		if err := rt.ledger.EnsureTable(ctx); err != nil {
			return err
		}

		outcome, err := rt.rec.Reconcile(ctx, true)
		if err != nil {
			return err
		}

		slog.Info("reconciled", "datasource", rt.ds.Name,
			"status", string(outcome.Status), "repaired", len(outcome.Repaired))
		return nil
	})
}
