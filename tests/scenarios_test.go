package tests_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qbloq/askdb/core"

	_ "modernc.org/sqlite"
)

// stagedProvider scripts one reply per pipeline stage, keyed on the
// system prompt. Unset stages fall back to a benign default so a test
// only has to script what it asserts on.
type stagedProvider struct {
	intent   string
	entities string
	verdict  string
	sql      string
}

func (p *stagedProvider) Name() string { return "staged" }

func (p *stagedProvider) Complete(ctx context.Context, system, user string, maxTokens int64, temperature float64) (string, error) {
	switch {
	case strings.HasPrefix(system, "You classify"):
		if p.intent != "" {
			return p.intent, nil
		}
		return `{"name": "QUERY_DATA", "confidence": 0.9}`, nil
	case strings.HasPrefix(system, "You extract structured entities"):
		if p.entities != "" {
			return p.entities, nil
		}
		return `{"entities": []}`, nil
	case strings.HasPrefix(system, "You review a SQL"):
		if p.verdict != "" {
			return p.verdict, nil
		}
		return `{"is_valid": true, "confidence": 0.9}`, nil
	}
	return p.sql, nil
}

// openMemDB opens a shared in-memory SQLite database and applies the
// given statements. One connection is held open for the test's
// lifetime so idle pool churn cannot drop the shared database.
func openMemDB(t *testing.T, name string, stmts ...string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck
		db.Close()   //nolint:errcheck
	})

	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func memName(t *testing.T, backendID string) string {
	return strings.ReplaceAll(t.Name(), "/", "_") + "_" + backendID
}

func newPipeline(t *testing.T, conf *core.Config, p core.CompletionProvider, pools map[string]*sql.DB) *core.AskDB {
	t.Helper()

	a, err := core.New(conf,
		core.OptionSetLog(zaptest.NewLogger(t).Sugar()),
		core.OptionSetPools(pools),
		core.OptionSetCompletionProvider(p),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() }) //nolint:errcheck
	return a
}

func sqliteBackends(names ...string) *core.Config {
	conf := &core.Config{}
	for _, n := range names {
		conf.Databases = append(conf.Databases,
			core.DatabaseConfig{Name: n, Type: "sqlite"})
	}
	return conf
}

func TestCountActiveCustomers(t *testing.T) {
	db := openMemDB(t, memName(t, "default"),
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`,
		`INSERT INTO customers (id, status) VALUES (1, 'active'), (2, 'active'), (3, 'inactive')`,
	)

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{
		intent: `{"name": "SUMMARIZE_DATA", "confidence": 0.92}`,
		entities: `{"entities": [
			{"kind": "table", "name": "customers", "confidence": 0.9},
			{"kind": "filter", "column": "status", "op": "=", "value": "active", "confidence": 0.9},
			{"kind": "aggregation", "fn": "count", "confidence": 0.9}]}`,
		sql: "SELECT COUNT(*) AS total FROM customers WHERE status = :p0",
	}, map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "how many customers are active?",
		BackendID: "default",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Contains(t, env.SQL, "FROM customers")
	assert.Contains(t, env.SQL, "WHERE status = :p0")
	assert.Equal(t, map[string]any{"p0": "active"}, env.Parameters)

	require.NotNil(t, env.Intent)
	assert.Equal(t, core.IntentSummarizeData, env.Intent.Name)

	require.NotNil(t, env.Result)
	assert.Equal(t, 1, env.Result.RowCount)
	assert.EqualValues(t, 2, env.Result.Rows[0]["total"])

	require.NotNil(t, env.Visualization)
	assert.Equal(t, "value", env.Visualization.Kind)
}

func TestDropTableRejectedOnReadOnlyBackend(t *testing.T) {
	db := openMemDB(t, memName(t, "db_ro"),
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`,
		`INSERT INTO customers (id, status) VALUES (1, 'active')`,
	)

	conf := &core.Config{Databases: []core.DatabaseConfig{
		{Name: "default", Type: "sqlite"},
		{Name: "db_ro", Type: "sqlite", ReadOnly: true},
	}}
	a := newPipeline(t, conf, &stagedProvider{
		sql: "DROP TABLE customers",
	}, map[string]*sql.DB{
		"default": openMemDB(t, memName(t, "default")),
		"db_ro":   db,
	})

	env := a.Query(context.Background(), core.Request{
		Utterance: "drop table customers",
		BackendID: "db_ro",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusDegraded, env.Status)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "SafetyRejection", env.Errors[0].Kind)
	assert.Nil(t, env.Result)

	// the statement never reached the backend
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMonthlySeriesSuggestsLineChart(t *testing.T) {
	stmts := []string{
		`CREATE TABLE sales (month TEXT NOT NULL, total REAL NOT NULL)`,
	}
	for m := 1; m <= 12; m++ {
		stmts = append(stmts, fmt.Sprintf(
			"INSERT INTO sales (month, total) VALUES ('2024-%02d-01', %d.0)",
			m, 100*m))
	}
	db := openMemDB(t, memName(t, "default"), stmts...)

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{
		intent: `{"name": "TREND_ANALYSIS", "confidence": 0.9}`,
		sql:    "SELECT month, total FROM sales ORDER BY month",
	}, map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "sales by month",
		BackendID: "default",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	require.NotNil(t, env.Result)
	assert.Equal(t, 12, env.Result.RowCount)

	require.NotNil(t, env.Visualization)
	assert.Equal(t, "line", env.Visualization.Kind)
	assert.Equal(t, "month", env.Visualization.Encoding["x"])
	assert.Equal(t, "total", env.Visualization.Encoding["y"])
}

func TestUnregisteredBackendIsError(t *testing.T) {
	db := openMemDB(t, memName(t, "default"),
		`CREATE TABLE tracks (id INTEGER PRIMARY KEY, name TEXT)`,
	)

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{
		sql: "SELECT id, name FROM tracks",
	}, map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "list tracks",
		BackendID: "db_missing",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusError, env.Status)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "SchemaError", env.Errors[0].Kind)
	assert.Contains(t, env.Errors[0].Message, "db_missing")
	assert.Nil(t, env.Result)
}

func TestAmbiguousUtteranceOnEmptySchemaYieldsSentinel(t *testing.T) {
	db := openMemDB(t, memName(t, "default"))

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{},
		map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "show top 5 rows",
		BackendID: "default",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Equal(t, "SELECT 1 AS result", env.SQL)
	assert.NotEmpty(t, env.Note)
	require.NotNil(t, env.Result)
	assert.Equal(t, 1, env.Result.RowCount)
}

func TestAmbiguousUtteranceAssumesFixtureTable(t *testing.T) {
	db := openMemDB(t, memName(t, "db_3"),
		`CREATE TABLE netflix_shows (show_id INTEGER PRIMARY KEY, title TEXT NOT NULL, release_year INTEGER)`,
		`INSERT INTO netflix_shows (show_id, title, release_year) VALUES
			(1, 'Stranger Things', 2016), (2, 'The Crown', 2016),
			(3, 'Dark', 2017), (4, 'Ozark', 2017),
			(5, 'Mindhunter', 2017), (6, 'Narcos', 2015)`,
	)

	a := newPipeline(t, sqliteBackends("db_3"), &stagedProvider{
		sql: "SELECT show_id, title, release_year FROM netflix_shows LIMIT 5",
	}, map[string]*sql.DB{"db_3": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "show top 5 rows",
		BackendID: "db_3",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Contains(t, env.SQL, "netflix_shows")
	assert.Contains(t, env.SQL, "LIMIT 5")
	assert.Contains(t, env.Note, "assumed table netflix_shows")
	require.NotNil(t, env.Result)
	assert.Equal(t, 5, env.Result.RowCount)
}

func TestUtteranceNamingTableIsKept(t *testing.T) {
	db := openMemDB(t, memName(t, "default"),
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL NOT NULL)`,
		`INSERT INTO orders (id, amount) VALUES (1, 10.0), (2, 20.0), (3, 30.0),
			(4, 40.0), (5, 50.0), (6, 60.0)`,
	)

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{
		entities: `{"entities": [{"kind": "table", "name": "orders", "confidence": 0.9}]}`,
		sql:      "SELECT id, amount FROM orders LIMIT 5",
	}, map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "show 5 rows of orders",
		BackendID: "default",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Contains(t, env.SQL, "FROM orders")
	assert.NotContains(t, env.Note, "assumed table")
	require.NotNil(t, env.Result)
	assert.Equal(t, 5, env.Result.RowCount)
}

func TestRequestMaxRowsCapsResult(t *testing.T) {
	db := openMemDB(t, memName(t, "default"),
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO items (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')`,
	)

	a := newPipeline(t, sqliteBackends("default"), &stagedProvider{
		sql: "SELECT id, name FROM items",
	}, map[string]*sql.DB{"default": db})

	env := a.Query(context.Background(), core.Request{
		Utterance: "list items",
		BackendID: "default",
		Options:   core.RequestOptions{MaxRows: 1},
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	require.NotNil(t, env.Result)
	assert.Equal(t, 1, env.Result.RowCount)
	assert.True(t, env.Result.Truncated)

	// a later uncapped request still sees every row
	env2 := a.Query(context.Background(), core.Request{
		Utterance: "list items",
		BackendID: "default",
	})
	require.NotNil(t, env2)
	require.NotNil(t, env2.Result)
	assert.Equal(t, 3, env2.Result.RowCount)
	assert.False(t, env2.Result.Truncated)
}

func TestFanOutWithOnePartialFailure(t *testing.T) {
	ordersDDL := `CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL NOT NULL)`

	dbDefault := openMemDB(t, memName(t, "default"), ordersDDL,
		`INSERT INTO orders (id, amount) VALUES (1, 10.5), (2, 4.5)`)
	db2 := openMemDB(t, memName(t, "db_2"), ordersDDL,
		`INSERT INTO orders (id, amount) VALUES (1, 7.25)`)
	db3 := openMemDB(t, memName(t, "db_3"),
		`CREATE TABLE events (id INTEGER PRIMARY KEY, name TEXT)`)

	a := newPipeline(t, sqliteBackends("default", "db_2", "db_3"), &stagedProvider{
		intent: `{"name": "SUMMARIZE_DATA", "confidence": 0.9}`,
		sql:    "SELECT SUM(amount) AS total FROM orders",
	}, map[string]*sql.DB{"default": dbDefault, "db_2": db2, "db_3": db3})

	env := a.Query(context.Background(), core.Request{
		Utterance: "sum of amount across all databases",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Nil(t, env.Result)
	require.Len(t, env.Results, 3)
	for _, id := range []string{"default", "db_2", "db_3"} {
		require.NotNil(t, env.Results[id], id)
	}

	require.NotNil(t, env.Results["default"].Result)
	assert.Equal(t, 1, env.Results["default"].Result.RowCount)
	assert.EqualValues(t, 15.0, env.Results["default"].Result.Rows[0]["total"])

	require.NotNil(t, env.Results["db_2"].Result)
	assert.EqualValues(t, 7.25, env.Results["db_2"].Result.Rows[0]["total"])

	require.NotNil(t, env.Results["db_3"].Error)
	assert.Nil(t, env.Results["db_3"].Result)
	assert.Equal(t, core.ErrKindNotFound, env.Results["db_3"].Error.Kind)
}

func TestQueryAllForcesFanOut(t *testing.T) {
	ordersDDL := `CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL NOT NULL)`

	dbDefault := openMemDB(t, memName(t, "default"), ordersDDL,
		`INSERT INTO orders (id, amount) VALUES (1, 3.0)`)
	db2 := openMemDB(t, memName(t, "db_2"), ordersDDL,
		`INSERT INTO orders (id, amount) VALUES (1, 9.0)`)

	a := newPipeline(t, sqliteBackends("default", "db_2"), &stagedProvider{
		sql: "SELECT SUM(amount) AS total FROM orders",
	}, map[string]*sql.DB{"default": dbDefault, "db_2": db2})

	// no cross-backend phrase in the utterance; QueryAll fans out anyway
	env := a.QueryAll(context.Background(), core.Request{
		Utterance: "total order amount",
	})

	require.NotNil(t, env)
	assert.Equal(t, core.StatusSuccess, env.Status)
	require.Len(t, env.Results, 2)
	require.NotNil(t, env.Results["default"])
	require.NotNil(t, env.Results["db_2"])
	require.NotNil(t, env.Results["default"].Result)
	require.NotNil(t, env.Results["db_2"].Result)
	assert.EqualValues(t, 3.0, env.Results["default"].Result.Rows[0]["total"])
	assert.EqualValues(t, 9.0, env.Results["db_2"].Result.Rows[0]["total"])
}
