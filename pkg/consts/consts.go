package consts

import "os"

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// LedgerTable is the name of the content-backup table owned by changeguard.
	LedgerTable = "CONTENTCHANGELOG"

	// HistoryTable is the name of the migration-history table owned by Liquibase.
	HistoryTable = "DATABASECHANGELOG"

	// InternalFilename is the filename Liquibase records for its own internal
	// changesets. Never reconciled.
	InternalFilename = "liquibase-internal"

	// MasterFilename is the conventional name of the per-datasource master
	// changelog file.
	MasterFilename = "db.changelog-master.xml"

	// TempMasterSuffix is appended to the master path when building a
	// disposable single-include master for a scoped rollback.
	TempMasterSuffix = "_tmp.xml"

	// AsideSuffix is appended to a changelog path when setting the edited
	// version aside during a rollback-and-replace cycle.
	AsideSuffix = ".tmp"

	// TagPrefix prefixes every rollback tag label.
	TagPrefix = "state-"

	// TimeFormat is the timestamp layout used for tag labels and ledger dates.
	TimeFormat = "2006-1-2 15:04:05"

	// DefaultConfigFile is the config file looked up in the working directory.
	DefaultConfigFile = "changeguard.yaml"
)
