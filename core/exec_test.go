package core

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qbloq/askdb/core/internal/dialect"
)

func TestBindStatementPostgres(t *testing.T) {
	d := dialect.Get("postgres")
	stmt, args, err := bindStatement(d,
		"SELECT * FROM t WHERE a = :p0 AND b = :p1 AND c = :p0",
		map[string]any{"p0": "x", "p1": 2})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2 AND c = $3", stmt)
	assert.Equal(t, []any{"x", 2, "x"}, args)
}

func TestBindStatementMysql(t *testing.T) {
	d := dialect.Get("mysql")
	stmt, args, err := bindStatement(d,
		"SELECT * FROM t WHERE a = :p0", map[string]any{"p0": 1})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", stmt)
	assert.Len(t, args, 1)
}

func TestBindStatementMssqlNamed(t *testing.T) {
	d := dialect.Get("mssql")
	stmt, args, err := bindStatement(d,
		"SELECT * FROM t WHERE a = :p0 AND b = :p0", map[string]any{"p0": 1})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = @p0 AND b = @p0", stmt)
	require.Len(t, args, 1)
	named, ok := args[0].(sql.NamedArg)
	require.True(t, ok)
	assert.Equal(t, "p0", named.Name)
}

func TestBindStatementSkipsLiteralsAndCasts(t *testing.T) {
	d := dialect.Get("postgres")
	stmt, args, err := bindStatement(d,
		"SELECT ':p0', a::text FROM t WHERE b = :p0", map[string]any{"p0": 7})
	require.NoError(t, err)
	assert.Equal(t, "SELECT ':p0', a::text FROM t WHERE b = $1", stmt)
	assert.Equal(t, []any{7}, args)
}

func TestBindStatementMissingParam(t *testing.T) {
	d := dialect.Get("postgres")
	_, _, err := bindStatement(d, "SELECT * FROM t WHERE a = :p0", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p0")
}

func testEngine(t *testing.T) *engine {
	t.Helper()
	conf := &Config{MaxRows: 2}
	conf.setDefaults()
	conf.MaxRows = 2
	return &engine{
		conf:  conf,
		log:   zaptest.NewLogger(t).Sugar(),
		trace: &tracer{},
	}
}

func TestRunStatementTruncates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	e := testEngine(t)
	d := dialect.Get("sqlite")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name FROM tracks").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "a").AddRow(2, "b").AddRow(3, "c"))
	mock.ExpectCommit()

	rs, runErr := e.runStatement(context.Background(), db, d, "default",
		"SELECT id, name FROM tracks", nil, e.conf.MaxRows)
	require.Nil(t, runErr)

	assert.True(t, rs.Truncated)
	assert.Equal(t, 2, rs.RowCount)
	assert.Len(t, rs.Rows, rs.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStatementPerRequestRowCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	e := testEngine(t)
	d := dialect.Get("sqlite")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name FROM tracks").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "a").AddRow(2, "b").AddRow(3, "c"))
	mock.ExpectCommit()

	// the request cap wins over the configured cap of 2
	rs, runErr := e.runStatement(context.Background(), db, d, "default",
		"SELECT id, name FROM tracks", nil, 1)
	require.Nil(t, runErr)

	assert.True(t, rs.Truncated)
	assert.Equal(t, 1, rs.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStatementSetsPostgresTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	e := testEngine(t)
	d := dialect.Get("postgres")

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 AS result").WillReturnRows(
		sqlmock.NewRows([]string{"result"}).AddRow(1))
	mock.ExpectCommit()

	rs, runErr := e.runStatement(context.Background(), db, d, "default",
		"SELECT 1 AS result", nil, e.conf.MaxRows)
	require.Nil(t, runErr)
	assert.Equal(t, 1, rs.RowCount)
	assert.False(t, rs.Truncated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapResultSet(t *testing.T) {
	rs := &ResultSet{
		Rows: []map[string]any{
			{"id": 1}, {"id": 2}, {"id": 3},
		},
		RowCount: 3,
	}

	capResultSet(rs, 0)
	assert.Equal(t, 3, rs.RowCount)
	assert.False(t, rs.Truncated)

	capResultSet(rs, 2)
	assert.Equal(t, 2, rs.RowCount)
	assert.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
}

func TestExecuteUnknownBackend(t *testing.T) {
	e := testEngine(t)
	e.registry = newRegistry()
	rc, err := newResultCache(8, 0, nil, e.log)
	require.NoError(t, err)
	e.results = rc

	_, execErr := e.execute(context.Background(), "db_missing",
		art("SELECT 1", nil), false, 0)
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindNotFound, execErr.Kind)
	assert.Contains(t, execErr.Message, "db_missing")
}

func TestExecuteReadOnlyRefusesMutation(t *testing.T) {
	e := testEngine(t)
	e.registry = newRegistry()
	rc, err := newResultCache(8, 0, nil, e.log)
	require.NoError(t, err)
	e.results = rc

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	require.NoError(t, e.registry.add(Backend{
		ID: "db_ro", Dialect: "postgres", Enabled: true, ReadOnly: true,
	}, db))

	_, execErr := e.execute(context.Background(), "db_ro",
		art("DELETE FROM customers", nil), false, 0)
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindPermission, execErr.Kind)
}
