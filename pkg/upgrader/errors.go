package upgrader

import "fmt"

type (
	// ProductionGuardError means unrun changesets exist but the run
	// environment is production. Auto-apply to production is categorically
	// disallowed; the changesets must be applied manually.
	ProductionGuardError struct {
		Datasource string
	}

	// TestRollbackError means the rollback simulation failed. The database
	// was rolled back to the attempt's tag before this was raised.
	TestRollbackError struct {
		Datasource string
		Tag        string
	}

	// ApplyError means the engine reported an update failure. The database
	// was rolled back to the attempt's tag before this was raised.
	ApplyError struct {
		Datasource string
		Tag        string
	}

	// LedgerPersistError means recording an applied file's backup failed.
	// A partially recorded ledger is as unsafe as a failed apply, so the
	// database was rolled back to the attempt's tag before this was raised.
	LedgerPersistError struct {
		Datasource string
		Filename   string
		Tag        string
		Err        error
	}
)

func (e *ProductionGuardError) Error() string {
	return fmt.Sprintf("datasource %s: production database needs updates; no auto update to production, please run manually", e.Datasource)
}

func (e *TestRollbackError) Error() string {
	return fmt.Sprintf("datasource %s: rollback test failed, rolled back to %s", e.Datasource, e.Tag)
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("datasource %s: engine did not apply changesets, rolled back to %s", e.Datasource, e.Tag)
}

func (e *LedgerPersistError) Error() string {
	return fmt.Sprintf("datasource %s: failed to record %s, rolled back to %s: %v", e.Datasource, e.Filename, e.Tag, e.Err)
}

func (e *LedgerPersistError) Unwrap() error { return e.Err }
