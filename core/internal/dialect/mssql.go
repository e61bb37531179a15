package dialect

import (
	"fmt"
	"strings"
	"time"
)

type mssqlDialect struct{}

func (mssqlDialect) Name() string { return MSSQL }

func (mssqlDialect) BindVar(i int) string { return fmt.Sprintf("@p%d", i) }

func (mssqlDialect) UseNamedParams() bool { return true }

func (mssqlDialect) QuoteIdentifier(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// SQL Server has no LIMIT; callers append this after ORDER BY or use
// SELECT TOP which the synthesizer prompt asks for.
func (mssqlDialect) LimitClause(n int) string {
	return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
}

func (mssqlDialect) StatementTimeoutSQL(d time.Duration) string {
	return fmt.Sprintf("SET LOCK_TIMEOUT %d", d.Milliseconds())
}

func (mssqlDialect) SentinelSQL() string { return "SELECT 1 AS result" }
