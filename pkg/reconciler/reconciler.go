// Package reconciler compares the migration history of a datasource against
// the changelog files on disk and unwinds drifted changes from the content
// ledger.
//
// For every distinct filename in history (most recent execution first) one of
// three cases applies:
//
//   - the file is missing on disk: reconstruct it from the ledger backup,
//     roll the engine back to the backup's tag through a disposable
//     single-include master, then remove the reconstructed file and the
//     ledger entry. Destructive, so it requires explicit permission; without
//     it the pass stops and reports that confirmation is needed.
//   - the file exists but its content differs from the ledger backup: the
//     old applied version is rolled back and forgotten while the edited file
//     is kept in place, ready to be picked up as a fresh unrun change.
//   - the file matches the backup (or no backup exists): nothing to do.
//
// A pass that stops early (confirmation needed) must be restarted from the
// top; filenames handled before the stop were fully committed.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/beekhuis/changeguard/pkg/changelog"
	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/beekhuis/changeguard/pkg/engine"
	"github.com/beekhuis/changeguard/pkg/ledger"
	"github.com/pkg/errors"
)

// Status tags the outcome of a reconciliation pass.
type Status string

const (
	// StatusFirstRun means the history table does not exist yet; there is
	// nothing to reconcile.
	StatusFirstRun Status = "first_run"

	// StatusNeedsConfirmation means a missing file can be reconstructed from
	// the ledger, but destructive rollback was not permitted. The pass
	// stopped without mutating anything; an operator must re-invoke with
	// permission granted.
	StatusNeedsConfirmation Status = "needs_confirmation"

	// StatusReconciled means the pass completed; every filename in history
	// now either has no ledger entry or a file whose content matches it.
	StatusReconciled Status = "reconciled"
)

type (
	// Outcome is the tagged result of a reconciliation pass.
	Outcome struct {
		Status Status

		// Filename carries the drifted file when Status is
		// StatusNeedsConfirmation.
		Filename string

		// Repaired lists the filenames whose rollback-and-replace cycles
		// completed during this pass.
		Repaired []string
	}

	// Config wires one datasource's collaborators into a Reconciler.
	Config struct {
		Ledger  *ledger.Ledger
		History engine.History
		Opener  engine.Opener

		// Master is the datasource's real master changelog file.
		Master string

		// Root is the directory history filenames are relative to.
		// Defaults to the current directory.
		Root string

		Logger *slog.Logger
	}

	// Reconciler drives rollback-and-replace cycles for one datasource.
	Reconciler struct {
		cfg Config
	}

	// IrreconcilableDriftError means history references a filename that has
	// neither a file on disk nor a ledger backup to reconstruct from.
	IrreconcilableDriftError struct {
		Filename string
	}

	// ReconciliationError means a rollback-and-replace cycle failed partway.
	// Partial filesystem state may remain; no cleanup-of-cleanup is
	// attempted.
	ReconciliationError struct {
		Filename string
		Tag      string
		Err      error
	}
)

func (e *IrreconcilableDriftError) Error() string {
	return fmt.Sprintf("history references %s but neither the file nor a ledger backup exists; manual repair required", e.Filename)
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("failed to reconcile %s (tag %s): %v", e.Filename, e.Tag, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// New creates a Reconciler from cfg.
func New(cfg Config) *Reconciler {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{cfg: cfg}
}

// Reconcile runs one reconciliation pass.
//
// With allowRollback false a missing-but-reconstructible file stops the pass
// with StatusNeedsConfirmation and mutates nothing; this keeps an unattended
// startup from silently rewriting history. Content mismatches of files that
// are present are always repaired, permission or not, since the edited file
// itself documents the intent.
func (r *Reconciler) Reconcile(ctx context.Context, allowRollback bool) (*Outcome, error) {
	exists, err := r.cfg.History.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		r.cfg.Logger.Info("first time run, no compare needed")
		return &Outcome{Status: StatusFirstRun}, nil
	}

	filenames, err := r.cfg.History.AppliedFilenames(ctx)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Status: StatusReconciled}
	for _, filename := range filenames {
		entry, err := r.cfg.Ledger.Lookup(ctx, filename)
		if err != nil {
			return nil, err
		}

		if !fileExists(r.path(filename)) {
			if entry == nil {
				return nil, &IrreconcilableDriftError{Filename: filename}
			}

			r.cfg.Logger.Warn("missing changelog file", "filename", filename)
			if !allowRollback {
				return &Outcome{Status: StatusNeedsConfirmation, Filename: filename}, nil
			}

			if err := r.restoreMissing(ctx, filename, entry); err != nil {
				return nil, err
			}
			outcome.Repaired = append(outcome.Repaired, filename)
			continue
		}

		if entry == nil {
			// Nothing backed up for this file; trusted as-is.
			continue
		}

		current, err := os.ReadFile(r.path(filename))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read changelog: %s", filename)
		}
		if string(current) == entry.Content {
			r.cfg.Logger.Debug("no changes", "filename", filename)
			continue
		}

		r.cfg.Logger.Info("changed changeset, rolling back so we can replace it", "filename", filename)
		if err := r.replaceEdited(ctx, filename, entry); err != nil {
			return nil, err
		}
		outcome.Repaired = append(outcome.Repaired, filename)
	}

	return outcome, nil
}

// restoreMissing handles a file that exists only in history and the ledger:
// recreate it from the backup, roll the engine back to the backup's tag via a
// temporary master scoped to just this file, then remove every trace of it.
func (r *Reconciler) restoreMissing(ctx context.Context, filename string, entry *ledger.Entry) error {
	fail := func(err error) error {
		return &ReconciliationError{Filename: filename, Tag: entry.Tag, Err: err}
	}

	if err := writeExclusive(r.path(filename), entry.Content); err != nil {
		return fail(err)
	}

	master, err := changelog.ParseFile(r.path(r.cfg.Master))
	if err != nil {
		return fail(err)
	}

	tempMaster := r.cfg.Master + consts.TempMasterSuffix
	if err := master.WithInclude(filename).WriteFile(r.path(tempMaster)); err != nil {
		return fail(err)
	}

	sess, err := r.cfg.Opener.Open(tempMaster)
	if err != nil {
		return fail(err)
	}
	if err := sess.Rollback(ctx, entry.Tag); err != nil {
		return fail(err)
	}

	if err := removeFile(r.path(filename)); err != nil {
		return fail(err)
	}
	if err := removeFile(r.path(tempMaster)); err != nil {
		return fail(err)
	}
	if err := r.cfg.Ledger.Delete(ctx, filename); err != nil {
		return fail(err)
	}

	r.cfg.Logger.Info("rolled back missing changelog", "filename", filename, "tag", entry.Tag)
	return nil
}

// replaceEdited handles a file whose on-disk content no longer matches the
// applied version in the ledger: set the edited version aside, put the old
// content back, roll the engine back to the backup's tag, then restore the
// edited version so it can run as a fresh change.
func (r *Reconciler) replaceEdited(ctx context.Context, filename string, entry *ledger.Entry) error {
	fail := func(err error) error {
		return &ReconciliationError{Filename: filename, Tag: entry.Tag, Err: err}
	}

	aside := filename + consts.AsideSuffix
	if err := renameReplace(r.path(filename), r.path(aside)); err != nil {
		return fail(err)
	}
	if err := writeExclusive(r.path(filename), entry.Content); err != nil {
		return fail(err)
	}

	sess, err := r.cfg.Opener.Open(r.cfg.Master)
	if err != nil {
		return fail(err)
	}
	if err := sess.Rollback(ctx, entry.Tag); err != nil {
		// Put the edited file back before propagating; leaving the old
		// applied content at the real path would misrepresent the tree.
		if restoreErr := r.restoreAside(filename, aside); restoreErr != nil {
			r.cfg.Logger.Error("failed to restore edited changelog after rollback failure",
				"filename", filename, "error", restoreErr)
		}
		return fail(err)
	}

	if err := removeFile(r.path(filename)); err != nil {
		return fail(err)
	}
	if err := r.cfg.Ledger.Delete(ctx, filename); err != nil {
		return fail(err)
	}
	if err := renameReplace(r.path(aside), r.path(filename)); err != nil {
		return fail(err)
	}

	r.cfg.Logger.Info("rolled back edited changelog", "filename", filename, "tag", entry.Tag)
	return nil
}

func (r *Reconciler) restoreAside(filename, aside string) error {
	if err := removeFile(r.path(filename)); err != nil {
		return err
	}
	return renameReplace(r.path(aside), r.path(filename))
}

func (r *Reconciler) path(name string) string {
	return filepath.Join(r.cfg.Root, name)
}
