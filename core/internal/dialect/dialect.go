// Package dialect captures the per-database SQL variations the executor
// needs: parameter binding style, identifier quoting, row limiting,
// statement timeouts and the fallback sentinel statement.
package dialect

import (
	"strings"
	"time"
)

// Dialect names. "unknown" is a valid catch-all that binds like postgres.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
	MSSQL    = "mssql"
	Oracle   = "oracle"
	Unknown  = "unknown"
)

type Dialect interface {
	Name() string

	// BindVar renders the i-th (1-based) positional placeholder.
	BindVar(i int) string

	// UseNamedParams reports whether the driver accepts sql.Named
	// arguments directly instead of positional placeholders.
	UseNamedParams() bool

	QuoteIdentifier(s string) string

	// LimitClause renders the row-limiting suffix for a SELECT.
	LimitClause(n int) string

	// StatementTimeoutSQL returns a session/transaction scoped statement
	// timeout command, or "" when the dialect has none and the executor
	// must rely on context cancellation alone.
	StatementTimeoutSQL(d time.Duration) string

	// SentinelSQL is the minimal valid statement returned when query
	// generation cannot produce anything meaningful.
	SentinelSQL() string
}

// Get returns the dialect for the given name. Unrecognized names get
// the unknown dialect which binds like postgres.
func Get(name string) Dialect {
	switch strings.ToLower(name) {
	case Postgres, "postgresql", "pgx":
		return postgresDialect{}
	case MySQL, "mariadb":
		return mysqlDialect{}
	case SQLite, "sqlite3":
		return sqliteDialect{}
	case MSSQL, "sqlserver":
		return mssqlDialect{}
	case Oracle:
		return oracleDialect{}
	default:
		return unknownDialect{}
	}
}

// Supported lists the dialect names accepted in configuration.
func Supported() []string {
	return []string{Postgres, MySQL, SQLite, MSSQL, Oracle, Unknown}
}

// IsSupported reports whether name maps to a known dialect.
func IsSupported(name string) bool {
	if name == "" {
		return true
	}
	for _, d := range Supported() {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}
