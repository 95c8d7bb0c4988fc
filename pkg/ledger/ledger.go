// Package ledger owns the CONTENTCHANGELOG backup table: one row per applied
// changelog file holding its full text and the tag to roll back to if that
// apply must be undone.
//
// The table carries no uniqueness constraint; keeping at most one live entry
// per filename is caller discipline (delete the old entry as part of every
// rollback-and-replace cycle).
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/pkg/errors"
)

type (
	// Entry is one backed-up changelog file version.
	Entry struct {
		ID        int64
		Filename  string
		AppliedAt string
		Content   string
		Tag       string
	}

	// Ledger provides access to the content backup table of a single
	// datasource.
	Ledger struct {
		db      *sql.DB
		dialect Dialect
		now     func() time.Time
	}

	// PersistenceError wraps a database failure during a ledger operation.
	// Callers treat it as fatal for the current migration attempt.
	PersistenceError struct {
		Op       string
		Filename string
		Err      error
	}
)

func (e *PersistenceError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Filename, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// New creates a Ledger over db using the DDL dialect for the given
// database/sql driver name.
func New(db *sql.DB, driver string) (*Ledger, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	return &Ledger{db: db, dialect: dialect, now: time.Now}, nil
}

// EnsureTable creates the CONTENTCHANGELOG table if it does not exist.
// Idempotent; repeated calls are no-ops.
func (l *Ledger) EnsureTable(ctx context.Context) error {
	exists, err := TableExists(ctx, l.db, consts.LedgerTable)
	if err != nil {
		return &PersistenceError{Op: "probe", Err: err}
	}
	if exists {
		return nil
	}

	if _, err := l.db.ExecContext(ctx, l.dialect.CreateLedgerTable()); err != nil {
		return &PersistenceError{Op: "create table", Err: err}
	}
	return nil
}

// Lookup returns the live entry for a filename, or nil when none exists.
// Should duplicates ever exist the most recent row wins.
func (l *Ledger) Lookup(ctx context.Context, filename string) (*Entry, error) {
	query := l.dialect.Rebind(fmt.Sprintf(
		"SELECT id, filename, date, content, tag FROM %s WHERE filename = ? ORDER BY id DESC",
		consts.LedgerTable,
	))

	var e Entry
	row := l.db.QueryRowContext(ctx, query, filename)
	if err := row.Scan(&e.ID, &e.Filename, &e.AppliedAt, &e.Content, &e.Tag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "lookup", Filename: filename, Err: err}
	}

	return &e, nil
}

// Insert appends a backup record for a just-applied changelog file.
func (l *Ledger) Insert(ctx context.Context, filename, content, tag string) error {
	query := l.dialect.Rebind(fmt.Sprintf(
		"INSERT INTO %s (filename, date, content, tag) VALUES (?, ?, ?, ?)",
		consts.LedgerTable,
	))

	date := l.now().Format(consts.TimeFormat)
	if _, err := l.db.ExecContext(ctx, query, filename, date, content, tag); err != nil {
		return &PersistenceError{Op: "insert", Filename: filename, Err: err}
	}
	return nil
}

// Delete removes the entry (or entries) for a filename once a
// rollback-and-replace cycle completes.
func (l *Ledger) Delete(ctx context.Context, filename string) error {
	query := l.dialect.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE filename = ?", consts.LedgerTable,
	))

	if _, err := l.db.ExecContext(ctx, query, filename); err != nil {
		return &PersistenceError{Op: "delete", Filename: filename, Err: err}
	}
	return nil
}

// TableExists reports whether a table is present by probing it with a
// zero-row select. A failed probe means the table is absent (or the
// connection is broken, which the next statement will surface anyway).
func TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	if err := db.PingContext(ctx); err != nil {
		return false, err
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", table))
	return err == nil, nil
}
