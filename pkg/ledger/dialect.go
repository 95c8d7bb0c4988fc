package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/pkg/errors"
)

// Dialect abstracts the per-database differences the ledger cares about:
// the autoincrement DDL and the bind-parameter style.
type Dialect interface {
	// CreateLedgerTable returns the CREATE TABLE statement for the ledger.
	CreateLedgerTable() string

	// Rebind converts a query written with ? placeholders to the dialect's
	// bind style.
	Rebind(query string) string
}

type (
	sqliteDialect   struct{}
	mysqlDialect    struct{}
	postgresDialect struct{}
)

// DialectFor returns the Dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "pgx":
		return postgresDialect{}, nil
	default:
		return nil, errors.Errorf("unsupported driver: %s", driver)
	}
}

func (sqliteDialect) CreateLedgerTable() string {
	return fmt.Sprintf(`CREATE TABLE %s (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		filename VARCHAR(255),
		date     VARCHAR(255),
		content  TEXT,
		tag      VARCHAR(255)
	)`, consts.LedgerTable)
}

func (sqliteDialect) Rebind(query string) string { return query }

func (mysqlDialect) CreateLedgerTable() string {
	return fmt.Sprintf(`CREATE TABLE %s (
		id       BIGINT AUTO_INCREMENT NOT NULL,
		filename VARCHAR(255),
		date     DATETIME,
		content  LONGTEXT,
		tag      VARCHAR(255),
		CONSTRAINT pk_contentchangelog PRIMARY KEY (id)
	)`, consts.LedgerTable)
}

func (mysqlDialect) Rebind(query string) string { return query }

func (postgresDialect) CreateLedgerTable() string {
	return fmt.Sprintf(`CREATE TABLE %s (
		id       BIGSERIAL PRIMARY KEY,
		filename VARCHAR(255),
		date     VARCHAR(255),
		content  TEXT,
		tag      VARCHAR(255)
	)`, consts.LedgerTable)
}

func (postgresDialect) Rebind(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
