package dialect

import (
	"fmt"
	"strings"
	"time"
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return SQLite }

func (sqliteDialect) BindVar(int) string { return "?" }

func (sqliteDialect) UseNamedParams() bool { return false }

func (sqliteDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (sqliteDialect) LimitClause(n int) string { return fmt.Sprintf("LIMIT %d", n) }

// SQLite has no statement timeout; cancellation comes from the context.
func (sqliteDialect) StatementTimeoutSQL(time.Duration) string { return "" }

func (sqliteDialect) SentinelSQL() string { return "SELECT 1 AS result" }
