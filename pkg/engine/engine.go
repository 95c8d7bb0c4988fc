// Package engine defines the boundary to the migration engine.
//
// The engine itself (Liquibase) is an external collaborator: it owns the
// migration-history table format and the apply/rollback/tag primitives.
// changeguard only needs the small surface below; the liquibase subpackage
// provides the real implementation.
package engine

import (
	"context"
	"fmt"
)

type (
	// ChangeSet is one atomic migration unit the engine has not yet run.
	ChangeSet struct {
		ID       string
		Author   string
		FilePath string
	}

	// Session binds a master changelog file and a datasource into one engine
	// conversation.
	Session interface {
		// ListUnrun returns the unrun changesets in execution order.
		ListUnrun(ctx context.Context) ([]ChangeSet, error)

		// Tag labels the current database state as a rollback point.
		Tag(ctx context.Context, label string) error

		// TestRollback simulates a full rollback-then-reapply cycle. A failed
		// simulation reports false rather than an error; it is a pre-flight
		// gate and never leaves persisted state behind on failure.
		TestRollback(ctx context.Context) bool

		// Update applies all unrun changesets. Returns false on failure; the
		// engine logs the attempt itself. Callers must not assume atomicity
		// and roll back explicitly to their tag when false.
		Update(ctx context.Context) bool

		// Rollback unwinds history back to the given tag. A rollback failure
		// is unrecoverable; no further automated repair is possible.
		Rollback(ctx context.Context, tag string) error
	}

	// Opener creates engine sessions against a master changelog file. The
	// datasource is bound at construction time.
	Opener interface {
		Open(masterFile string) (Session, error)
	}

	// History reads the engine-owned migration-history table.
	History interface {
		// Exists reports whether the history table has been created yet.
		// Absent history means a first-time run: nothing to reconcile.
		Exists(ctx context.Context) (bool, error)

		// AppliedFilenames returns the distinct changelog filenames recorded
		// in history, most recent execution first, engine-internal entries
		// excluded.
		AppliedFilenames(ctx context.Context) ([]string, error)
	}

	// Error wraps a failure of the engine itself (CLI invocation, history
	// query). Always fatal for the current datasource's attempt.
	Error struct {
		Op     string
		Master string
		Err    error
	}
)

func (e *Error) Error() string {
	if e.Master == "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s (%s): %v", e.Op, e.Master, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
