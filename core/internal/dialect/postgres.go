package dialect

import (
	"fmt"
	"strings"
	"time"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return Postgres }

func (postgresDialect) BindVar(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) UseNamedParams() bool { return false }

func (postgresDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (postgresDialect) LimitClause(n int) string { return fmt.Sprintf("LIMIT %d", n) }

func (postgresDialect) StatementTimeoutSQL(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds())
}

func (postgresDialect) SentinelSQL() string { return "SELECT 1 AS result" }

// unknownDialect binds like postgres, which is the most common wire
// behavior among drivers we have not identified.
type unknownDialect struct{ postgresDialect }

func (unknownDialect) Name() string { return Unknown }

func (unknownDialect) StatementTimeoutSQL(time.Duration) string { return "" }
