package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/qbloq/askdb/core/internal/dialect"
)

// ResultColumn is one column of a result set with its declared type.
type ResultColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultSet is the serialized outcome of one execution. Dates are
// ISO-8601 strings, numerics native, NULL preserved as null.
type ResultSet struct {
	Columns     []ResultColumn   `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	Truncated   bool             `json:"truncated"`
	ExecutionMS int64            `json:"execution_ms"`
	CacheHit    bool             `json:"cache_hit"`
	BackendID   string           `json:"backend_id"`
}

// BackendResult is one backend's slot in a fan-out response: a result
// set or a classified error, never both.
type BackendResult struct {
	Result *ResultSet `json:"result,omitempty"`
	Error  *ExecError `json:"error,omitempty"`
}

// execute runs the artifact on one backend with statement timeout, row
// cap and result caching. maxRows caps the result set for this request;
// zero falls back to the configured cap. Connection and Timeout
// failures of SELECT statements are retried with backoff; mutations
// never are.
func (e *engine) execute(ctx context.Context, backendID string, art *SqlArtifact, skipCache bool, maxRows int) (*ResultSet, *ExecError) {
	c1, span := e.spanStart(ctx, "Execute Query")
	defer span.End()
	span.SetAttributesString(StringAttr{Name: "backend", Value: backendID})

	backend, ok := e.registry.get(backendID)
	if !ok {
		return nil, &ExecError{
			Kind:    ErrKindNotFound,
			Backend: backendID,
			Message: fmt.Sprintf("backend %s is not registered", backendID),
		}
	}
	db, ok := e.registry.pool(backendID)
	if !ok {
		return nil, &ExecError{
			Kind:    ErrKindConnection,
			Backend: backendID,
			Message: fmt.Sprintf("backend %s has no connection pool", backendID),
		}
	}

	isSelect := selectVerbs[firstKeyword(art.Text)]
	if maxRows <= 0 {
		maxRows = e.conf.MaxRows
	}

	// executor-side assertion, independent of the gate
	if backend.ReadOnly && !isSelect {
		return nil, &ExecError{
			Kind:    ErrKindPermission,
			Backend: backendID,
			Message: fmt.Sprintf("backend %s is read-only", backendID),
		}
	}

	if isSelect && !skipCache {
		if rs, ok := e.results.get(c1, backendID, art.Text, art.Params); ok {
			rs.CacheHit = true
			rs.BackendID = backendID
			capResultSet(rs, maxRows)
			return rs, nil
		}
	}

	d := dialect.Get(backend.Dialect)
	stmt, args, err := bindStatement(d, art.Text, art.Params)
	if err != nil {
		return nil, &ExecError{Kind: ErrKindOther, Backend: backendID, Message: err.Error()}
	}

	c2, cancel := context.WithTimeout(c1, e.conf.ExecTimeout)
	defer cancel()

	var rs *ResultSet
	runErr := retry.Do(
		func() error {
			var err1 error
			rs, err1 = e.runStatement(c2, db, d, backendID, stmt, args, maxRows)
			return err1
		},
		retry.Context(c2),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !isSelect {
				return false
			}
			if ee, ok := err.(*ExecError); ok {
				return ee.Retryable()
			}
			return false
		}),
	)
	if runErr != nil {
		if ee, ok := runErr.(*ExecError); ok {
			span.Error(ee)
			return nil, ee
		}
		ee := classifyExecError(backend.Dialect, backendID, runErr)
		span.Error(ee)
		return nil, ee
	}

	// a result capped below the configured limit is a subset; caching
	// it would short-change later requests with a larger cap
	if isSelect && !skipCache && !(rs.Truncated && maxRows < e.conf.MaxRows) {
		e.results.set(c1, backendID, art.Text, art.Params, rs)
	}
	return rs, nil
}

// capResultSet trims a result set down to maxRows in place.
func capResultSet(rs *ResultSet, maxRows int) {
	if maxRows <= 0 || len(rs.Rows) <= maxRows {
		return
	}
	rs.Rows = rs.Rows[:maxRows]
	rs.RowCount = maxRows
	rs.Truncated = true
}

// runStatement performs one attempt inside a transaction.
func (e *engine) runStatement(ctx context.Context, db *sql.DB, d dialect.Dialect,
	backendID, stmt string, args []any, maxRows int,
) (*ResultSet, error) {
	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyExecError(d.Name(), backendID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if toSQL := d.StatementTimeoutSQL(e.conf.ExecTimeout); toSQL != "" {
		if _, err := tx.ExecContext(ctx, toSQL); err != nil {
			return nil, classifyExecError(d.Name(), backendID, err)
		}
	}

	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classifyExecError(d.Name(), backendID, err)
	}
	defer rows.Close() //nolint:errcheck

	rs, err := scanResultSet(rows, backendID, maxRows)
	if err != nil {
		return nil, classifyExecError(d.Name(), backendID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyExecError(d.Name(), backendID, err)
	}

	rs.ExecutionMS = time.Since(start).Milliseconds()
	return rs, nil
}

// scanResultSet reads up to maxRows+1 rows; overflow truncates.
func scanResultSet(rows *sql.Rows, backendID string, maxRows int) (*ResultSet, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{BackendID: backendID}
	names := make([]string, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		rs.Columns = append(rs.Columns, ResultColumn{
			Name: ct.Name(),
			Type: strings.ToLower(ct.DatabaseTypeName()),
		})
	}

	holders := make([]any, len(names))
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		values := make([]any, len(names))
		for i := range values {
			holders[i] = &values[i]
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = convertValue(values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rs.RowCount = len(rs.Rows)
	return rs, nil
}

// convertValue maps driver values to JSON-friendly ones: times become
// ISO-8601 strings, byte slices become strings.
func convertValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return v
	}
}

// bindStatement rewrites :name placeholders to the dialect's binding
// style and builds the argument list. Dialects with named-parameter
// drivers get sql.Named arguments; others get positional rewrites per
// occurrence.
func bindStatement(d dialect.Dialect, text string, params map[string]any) (string, []any, error) {
	var b strings.Builder
	b.Grow(len(text) + 16)

	var args []any
	named := map[string]bool{}
	pos := 0

	sc := newSQLScan(text)
	prev := byte(0)
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode != scanPlain || c != ':' || prev == ':' ||
			(sc.pos < len(sc.src) && sc.src[sc.pos] == ':') {
			b.WriteByte(c)
			prev = c
			continue
		}

		// collect the placeholder name
		start := sc.pos
		end := start
		for end < len(sc.src) && isParamChar(sc.src[end]) {
			end++
		}
		if end == start {
			b.WriteByte(c)
			prev = c
			continue
		}
		name := sc.src[start:end]
		sc.pos = end
		prev = sc.src[end-1]

		value, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("no value for parameter :%s", name)
		}

		if d.UseNamedParams() {
			if d.Name() == dialect.MSSQL {
				b.WriteByte('@')
			} else {
				b.WriteByte(':')
			}
			b.WriteString(name)
			if !named[name] {
				named[name] = true
				args = append(args, sql.Named(name, value))
			}
			continue
		}

		pos++
		b.WriteString(d.BindVar(pos))
		args = append(args, value)
	}

	return b.String(), args, nil
}

// executeAll fans the artifact out to every enabled backend
// concurrently. Read-only backends are skipped for non-SELECT
// statements. Partial failure is per backend, never overall.
func (e *engine) executeAll(ctx context.Context, art *SqlArtifact, skipCache bool, maxRows int) map[string]*BackendResult {
	c1, span := e.spanStart(ctx, "Fan-Out Execute")
	defer span.End()

	isSelect := selectVerbs[firstKeyword(art.Text)]

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = map[string]*BackendResult{}
	)

	for _, backend := range e.registry.list(false) {
		if backend.ReadOnly && !isSelect {
			continue
		}
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()

			// each child re-targets the artifact at its own dialect
			child := &SqlArtifact{
				Dialect:    b.Dialect,
				Text:       art.Text,
				Params:     art.Params,
				Confidence: art.Confidence,
			}
			rs, execErr := e.execute(c1, b.ID, child, skipCache, maxRows)

			mu.Lock()
			defer mu.Unlock()
			if execErr != nil {
				out[b.ID] = &BackendResult{Error: execErr}
				return
			}
			out[b.ID] = &BackendResult{Result: rs}
		}(backend)
	}

	wg.Wait()
	return out
}
