package dialect

import (
	"fmt"
	"strings"
	"time"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return MySQL }

func (mysqlDialect) BindVar(int) string { return "?" }

func (mysqlDialect) UseNamedParams() bool { return false }

func (mysqlDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func (mysqlDialect) LimitClause(n int) string { return fmt.Sprintf("LIMIT %d", n) }

// max_execution_time only applies to SELECT which is all the executor
// runs on behalf of generated queries.
func (mysqlDialect) StatementTimeoutSQL(d time.Duration) string {
	return fmt.Sprintf("SET SESSION max_execution_time = %d", d.Milliseconds())
}

func (mysqlDialect) SentinelSQL() string { return "SELECT 1 AS result" }
