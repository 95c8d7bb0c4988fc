// Package upgrader runs the per-datasource upgrade sequence: ensure the
// content ledger exists, reconcile changelog drift, and — when the datasource
// is configured for it — tag, test, apply and record any unrun changesets.
//
// The engine's own history write and the ledger insert are not covered by a
// single transaction; they happen in separate processes. A crash between a
// successful update and the final ledger insert leaves the database migrated
// but unrecorded. That window is accepted and kept visible here rather than
// papered over.
package upgrader

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/beekhuis/changeguard/pkg/config"
	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/beekhuis/changeguard/pkg/engine"
	"github.com/beekhuis/changeguard/pkg/ledger"
	"github.com/beekhuis/changeguard/pkg/reconciler"
)

// Status tags the result of one upgrade attempt.
type Status string

const (
	// StatusNeedsConfirmation propagates the reconciler's confirmation
	// request; an operator must grant destructive rollback and retry.
	StatusNeedsConfirmation Status = "needs_confirmation"

	// StatusSkipped means reconciliation completed but the datasource is not
	// configured to auto-apply.
	StatusSkipped Status = "skipped"

	// StatusNoWork means there were no unrun changesets.
	StatusNoWork Status = "no_work"

	// StatusApplied means unrun changesets were applied and recorded.
	StatusApplied Status = "applied"
)

type (
	// Reconciler is the drift-repair collaborator.
	Reconciler interface {
		Reconcile(ctx context.Context, allowRollback bool) (*reconciler.Outcome, error)
	}

	// Result is the outcome of one upgrade attempt for one datasource.
	Result struct {
		Status Status

		// Filename carries the drifted file when Status is
		// StatusNeedsConfirmation.
		Filename string

		// Tag is the rollback point created for this attempt, set when
		// Status is StatusApplied.
		Tag string

		// Filenames lists the changelog files recorded in the ledger, set
		// when Status is StatusApplied.
		Filenames []string
	}

	// Config wires one datasource's collaborators into an Upgrader.
	Config struct {
		// Datasource names the datasource for logs and error context.
		Datasource string

		// AutoApply gates whether unrun changesets are applied after a
		// clean reconciliation.
		AutoApply bool

		// Mode is the current run environment. Production refuses to
		// auto-apply regardless of AutoApply.
		Mode config.Mode

		// Master is the datasource's real master changelog file.
		Master string

		// Root is the directory changelog filenames are relative to.
		Root string

		Ledger     *ledger.Ledger
		Opener     engine.Opener
		Reconciler Reconciler
		Logger     *slog.Logger

		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Upgrader runs the upgrade sequence for one datasource.
	Upgrader struct {
		cfg Config
	}
)

// New creates an Upgrader from cfg.
func New(cfg Config) *Upgrader {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Upgrader{cfg: cfg}
}

// Run executes one upgrade attempt. Failure results are terminal for the
// attempt; nothing auto-retries. Whether one datasource's failure should stop
// processing of the next is the caller's policy.
func (u *Upgrader) Run(ctx context.Context) (*Result, error) {
	logger := u.cfg.Logger.With("datasource", u.cfg.Datasource)

	if err := u.cfg.Ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}

	outcome, err := u.cfg.Reconciler.Reconcile(ctx, false)
	if err != nil {
		return nil, err
	}
	if outcome.Status == reconciler.StatusNeedsConfirmation {
		return &Result{Status: StatusNeedsConfirmation, Filename: outcome.Filename}, nil
	}

	if !u.cfg.AutoApply {
		logger.Warn("apply disabled in configuration")
		return &Result{Status: StatusSkipped}, nil
	}

	sess, err := u.cfg.Opener.Open(u.cfg.Master)
	if err != nil {
		return nil, err
	}

	sets, err := sess.ListUnrun(ctx)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		logger.Info("no unrun changesets found")
		return &Result{Status: StatusNoWork}, nil
	}

	filenames := changedFilenames(sets)

	if u.cfg.Mode == config.Production {
		return nil, &ProductionGuardError{Datasource: u.cfg.Datasource}
	}

	tag := consts.TagPrefix + u.cfg.Now().Format(consts.TimeFormat)
	logger.Info("tagging current state", "tag", tag)
	if err := sess.Tag(ctx, tag); err != nil {
		return nil, err
	}

	if !sess.TestRollback(ctx) {
		if err := sess.Rollback(ctx, tag); err != nil {
			return nil, err
		}
		return nil, &TestRollbackError{Datasource: u.cfg.Datasource, Tag: tag}
	}

	if !sess.Update(ctx) {
		if err := sess.Rollback(ctx, tag); err != nil {
			return nil, err
		}
		return nil, &ApplyError{Datasource: u.cfg.Datasource, Tag: tag}
	}

	// Back up each applied file's content. A failed insert is as unsafe as a
	// failed apply: roll back immediately, even mid-loop.
	for _, filename := range filenames {
		content, err := os.ReadFile(filepath.Join(u.cfg.Root, filename))
		if err == nil {
			err = u.cfg.Ledger.Insert(ctx, filename, string(content), tag)
		}
		if err != nil {
			if rbErr := sess.Rollback(ctx, tag); rbErr != nil {
				return nil, rbErr
			}
			return nil, &LedgerPersistError{
				Datasource: u.cfg.Datasource,
				Filename:   filename,
				Tag:        tag,
				Err:        err,
			}
		}
	}

	logger.Info("changesets applied and recorded", "tag", tag, "files", len(filenames))
	return &Result{Status: StatusApplied, Tag: tag, Filenames: filenames}, nil
}

// changedFilenames collapses the changesets' file paths into a distinct list,
// first-seen order preserved.
func changedFilenames(sets []engine.ChangeSet) []string {
	var filenames []string
	for _, set := range sets {
		if !slices.Contains(filenames, set.FilePath) {
			filenames = append(filenames, set.FilePath)
		}
	}
	return filenames
}
