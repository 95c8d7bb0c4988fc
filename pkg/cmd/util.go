package cmd

import (
	"database/sql"
	"log/slog"

	"github.com/beekhuis/changeguard/pkg/config"
	"github.com/beekhuis/changeguard/pkg/engine/liquibase"
	"github.com/beekhuis/changeguard/pkg/ledger"
	"github.com/beekhuis/changeguard/pkg/reconciler"
	"github.com/beekhuis/changeguard/pkg/upgrader"
	"github.com/pkg/errors"
)

// runtime bundles the collaborators for one datasource.
type runtime struct {
	ds     config.Datasource
	db     *sql.DB
	ledger *ledger.Ledger
	opener *liquibase.Opener
	rec    *reconciler.Reconciler
	upg    *upgrader.Upgrader
}

// openRuntime wires a datasource's database connection, ledger, engine
// adapter, reconciler and upgrader together. Callers own Close.
func openRuntime(cfg *config.Config, ds config.Datasource) (*runtime, error) {
	contexts, err := cfg.Environment.Context()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(ds.Driver, ds.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open datasource: %s", ds.Name)
	}

	l, err := ledger.New(db, ds.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := slog.Default().With("datasource", ds.Name)
	opener := liquibase.New(liquibase.Config{
		Bin:       cfg.Liquibase.Bin,
		Classpath: cfg.Liquibase.Classpath,
		URL:       ds.URL,
		Username:  ds.Username,
		Password:  ds.Password,
		Contexts:  contexts,
		Logger:    logger,
	})

	master := ds.MasterFile(cfg.ChangelogDir)
	rec := reconciler.New(reconciler.Config{
		Ledger:  l,
		History: liquibase.NewHistory(db),
		Opener:  opener,
		Master:  master,
		Logger:  logger,
	})

	upg := upgrader.New(upgrader.Config{
		Datasource: ds.Name,
		AutoApply:  ds.AutoApply,
		Mode:       cfg.Environment,
		Master:     master,
		Ledger:     l,
		Opener:     opener,
		Reconciler: rec,
		Logger:     logger,
	})

	return &runtime{ds: ds, db: db, ledger: l, opener: opener, rec: rec, upg: upg}, nil
}

func (r *runtime) Close() error {
	return r.db.Close()
}

// eachDatasource runs fn for every configured datasource, in order, stopping
// at the first failure.
func eachDatasource(cfg *config.Config, fn func(*runtime) error) error {
	for _, ds := range cfg.Datasources {
		rt, err := openRuntime(cfg, ds)
		if err != nil {
			return err
		}

		err = fn(rt)
		_ = rt.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
