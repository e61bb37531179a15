package dialect

import (
	"fmt"
	"strings"
	"time"
)

type oracleDialect struct{}

func (oracleDialect) Name() string { return Oracle }

func (oracleDialect) BindVar(i int) string { return fmt.Sprintf(":%d", i) }

func (oracleDialect) UseNamedParams() bool { return true }

func (oracleDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (oracleDialect) LimitClause(n int) string {
	return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", n)
}

// Oracle statement timeouts are resource-manager territory; rely on
// context cancellation.
func (oracleDialect) StatementTimeoutSQL(time.Duration) string { return "" }

func (oracleDialect) SentinelSQL() string { return "SELECT 1 AS result FROM dual" }
