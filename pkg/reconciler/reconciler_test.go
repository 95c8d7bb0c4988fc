package reconciler_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/beekhuis/changeguard/pkg/engine/enginetest"
	"github.com/beekhuis/changeguard/pkg/engine/liquibase"
	"github.com/beekhuis/changeguard/pkg/ledger"
	. "github.com/beekhuis/changeguard/pkg/reconciler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const masterFile = "db.changelog-master.xml"

type fixture struct {
	t       *testing.T
	root    string
	db      *sql.DB
	ledger  *ledger.Ledger
	session *enginetest.Session
	opener  *enginetest.Opener
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	l, err := ledger.New(db, "sqlite")
	require.NoError(t, err)
	require.NoError(t, l.EnsureTable(context.Background()))

	f := &fixture{
		t:       t,
		root:    t.TempDir(),
		db:      db,
		ledger:  l,
		session: enginetest.NewSession(),
	}
	f.opener = &enginetest.Opener{Session: f.session}
	f.rec = New(Config{
		Ledger:  l,
		History: liquibase.NewHistory(db),
		Opener:  f.opener,
		Master:  masterFile,
		Root:    f.root,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	f.write(masterFile, `<databaseChangeLog><include file="V1__add_table.xml"/></databaseChangeLog>`)
	return f
}

func (f *fixture) createHistory(filenames ...string) {
	f.t.Helper()

	_, err := f.db.Exec("CREATE TABLE DATABASECHANGELOG (filename VARCHAR(255), ORDEREXECUTED INTEGER)")
	require.NoError(f.t, err)
	for i, name := range filenames {
		_, err := f.db.Exec("INSERT INTO DATABASECHANGELOG (filename, ORDEREXECUTED) VALUES (?, ?)", name, i+1)
		require.NoError(f.t, err)
	}
}

func (f *fixture) write(name, content string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.root, name), []byte(content), 0o644))
}

func (f *fixture) read(name string) string {
	f.t.Helper()
	content, err := os.ReadFile(filepath.Join(f.root, name))
	require.NoError(f.t, err)
	return string(content)
}

func (f *fixture) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.root, name))
	return err == nil
}

// requireInvariant asserts the post-condition: every filename in history
// either has no ledger entry or an on-disk file matching the entry's content.
func (f *fixture) requireInvariant() {
	f.t.Helper()
	ctx := context.Background()

	names, err := liquibase.NewHistory(f.db).AppliedFilenames(ctx)
	require.NoError(f.t, err)
	for _, name := range names {
		entry, err := f.ledger.Lookup(ctx, name)
		require.NoError(f.t, err)
		if entry == nil {
			continue
		}
		require.Equal(f.t, entry.Content, f.read(name), "ledger/file mismatch for %s", name)
	}
}

func TestReconcileFirstRun(t *testing.T) {
	f := newFixture(t)
	// No DATABASECHANGELOG table at all.

	outcome, err := f.rec.Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, StatusFirstRun, outcome.Status)
	require.Empty(t, f.session.Calls)
}

func TestReconcileClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createHistory("V1__add_table.xml", "V2__x.xml")
	f.write("V1__add_table.xml", "<changeSet id=1/>")
	f.write("V2__x.xml", "<changeSet id=2/>")
	require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))
	// V2 has no ledger entry; trusted as-is.

	outcome, err := f.rec.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusReconciled, outcome.Status)
	require.Empty(t, outcome.Repaired)
	require.Empty(t, f.session.Calls)
	f.requireInvariant()
}

func TestReconcileMissingFile(t *testing.T) {
	ctx := context.Background()

	t.Run("no backup is irreconcilable", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")

		_, err := f.rec.Reconcile(ctx, true)
		require.Error(t, err)

		var driftErr *IrreconcilableDriftError
		require.ErrorAs(t, err, &driftErr)
		require.Equal(t, "V1__add_table.xml", driftErr.Filename)
	})

	t.Run("confirmation required without permission", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")
		require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))

		outcome, err := f.rec.Reconcile(ctx, false)
		require.NoError(t, err)
		require.Equal(t, StatusNeedsConfirmation, outcome.Status)
		require.Equal(t, "V1__add_table.xml", outcome.Filename)

		// Nothing was mutated.
		require.Empty(t, f.session.Calls)
		require.False(t, f.exists("V1__add_table.xml"))
		entry, err := f.ledger.Lookup(ctx, "V1__add_table.xml")
		require.NoError(t, err)
		require.NotNil(t, entry)
	})

	t.Run("rolled back with permission", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")
		require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))

		outcome, err := f.rec.Reconcile(ctx, true)
		require.NoError(t, err)
		require.Equal(t, StatusReconciled, outcome.Status)
		require.Equal(t, []string{"V1__add_table.xml"}, outcome.Repaired)

		// Rollback ran against the temporary single-include master.
		require.Equal(t, []string{masterFile + "_tmp.xml"}, f.opener.Opened)
		require.Equal(t, []string{"rollback state-1"}, f.session.Calls)

		// All traces cleaned up: reconstructed file, temp master, ledger row.
		require.False(t, f.exists("V1__add_table.xml"))
		require.False(t, f.exists(masterFile+"_tmp.xml"))
		entry, err := f.ledger.Lookup(ctx, "V1__add_table.xml")
		require.NoError(t, err)
		require.Nil(t, entry)
	})

	t.Run("rollback failure leaves partial state", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")
		require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))
		f.session.RollbackErr = errors.New("rollback blew up")

		_, err := f.rec.Reconcile(ctx, true)
		require.Error(t, err)

		var recErr *ReconciliationError
		require.ErrorAs(t, err, &recErr)
		require.Equal(t, "V1__add_table.xml", recErr.Filename)
		require.Equal(t, "state-1", recErr.Tag)
	})
}

func TestReconcileEditedFile(t *testing.T) {
	ctx := context.Background()

	t.Run("old version rolled back, edit kept in place", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")
		f.write("V1__add_table.xml", "<changeSet id=2/>")
		require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))

		// Permission is not required for this branch.
		outcome, err := f.rec.Reconcile(ctx, false)
		require.NoError(t, err)
		require.Equal(t, StatusReconciled, outcome.Status)
		require.Equal(t, []string{"V1__add_table.xml"}, outcome.Repaired)

		// Rollback ran against the real master.
		require.Equal(t, []string{masterFile}, f.opener.Opened)
		require.Equal(t, []string{"rollback state-1"}, f.session.Calls)

		// The edited content survived; the backup entry and aside copy did not.
		require.Equal(t, "<changeSet id=2/>", f.read("V1__add_table.xml"))
		require.False(t, f.exists("V1__add_table.xml.tmp"))
		entry, err := f.ledger.Lookup(ctx, "V1__add_table.xml")
		require.NoError(t, err)
		require.Nil(t, entry)
		f.requireInvariant()
	})

	t.Run("rollback failure restores the edited file", func(t *testing.T) {
		f := newFixture(t)
		f.createHistory("V1__add_table.xml")
		f.write("V1__add_table.xml", "<changeSet id=2/>")
		require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))
		f.session.RollbackErr = errors.New("rollback blew up")

		_, err := f.rec.Reconcile(ctx, false)
		require.Error(t, err)

		var recErr *ReconciliationError
		require.ErrorAs(t, err, &recErr)

		// The edited version is back at the real path and the aside copy is
		// gone; the ledger entry remains for the next attempt.
		require.Equal(t, "<changeSet id=2/>", f.read("V1__add_table.xml"))
		require.False(t, f.exists("V1__add_table.xml.tmp"))
		entry, err := f.ledger.Lookup(ctx, "V1__add_table.xml")
		require.NoError(t, err)
		require.NotNil(t, entry)
	})
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createHistory("V1__add_table.xml")
	f.write("V1__add_table.xml", "<changeSet id=2/>")
	require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))

	first, err := f.rec.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Len(t, first.Repaired, 1)

	second, err := f.rec.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Equal(t, StatusReconciled, second.Status)
	require.Empty(t, second.Repaired)
	f.requireInvariant()
}

func TestReconcileStopsAtFirstConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Most recent execution first: V2 is examined before V1. V2 needs
	// confirmation, so V1's drift must be left untouched this pass.
	f.createHistory("V1__add_table.xml", "V2__x.xml")
	f.write("V1__add_table.xml", "<changeSet id=9/>")
	require.NoError(t, f.ledger.Insert(ctx, "V1__add_table.xml", "<changeSet id=1/>", "state-1"))
	require.NoError(t, f.ledger.Insert(ctx, "V2__x.xml", "<changeSet id=2/>", "state-2"))

	outcome, err := f.rec.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusNeedsConfirmation, outcome.Status)
	require.Equal(t, "V2__x.xml", outcome.Filename)

	// V1 was not examined: still drifted, entry intact, no engine calls.
	require.Equal(t, "<changeSet id=9/>", f.read("V1__add_table.xml"))
	require.Empty(t, f.session.Calls)
}
