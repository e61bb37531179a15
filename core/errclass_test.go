package core

import (
	"context"
	"errors"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPostgresCodes(t *testing.T) {
	tests := []struct {
		code string
		want ErrorKind
	}{
		{"08006", ErrKindConnection},
		{"23503", ErrKindForeignKey},
		{"23505", ErrKindUnique},
		{"42601", ErrKindSyntax},
		{"42501", ErrKindPermission},
		{"42P01", ErrKindNotFound},
		{"57014", ErrKindTimeout},
		{"22012", ErrKindOther},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &pgconn.PgError{Code: tt.code, Message: "boom"}
			got := classifyExecError("postgres", "default", err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "default", got.Backend)
		})
	}
}

func TestClassifyMysqlNumbers(t *testing.T) {
	tests := []struct {
		number uint16
		want   ErrorKind
	}{
		{1064, ErrKindSyntax},
		{1146, ErrKindNotFound},
		{1062, ErrKindUnique},
		{1452, ErrKindForeignKey},
		{1044, ErrKindPermission},
		{9999, ErrKindOther},
	}
	for _, tt := range tests {
		err := &mysql.MySQLError{Number: tt.number, Message: "boom"}
		got := classifyExecError("mysql", "db_1", err)
		assert.Equal(t, tt.want, got.Kind)
	}
}

func TestClassifySqliteMessages(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"SQL logic error: no such table: tracks (1)", ErrKindNotFound},
		{`near "FORM": syntax error`, ErrKindSyntax},
		{"constraint failed: UNIQUE constraint failed: t.id", ErrKindUnique},
		{"constraint failed: FOREIGN KEY constraint failed", ErrKindForeignKey},
		{"attempt to write a readonly database", ErrKindPermission},
		{"interrupted (9)", ErrKindTimeout},
		{"database is locked", ErrKindConnection},
		{"disk I/O error", ErrKindOther},
	}
	for _, tt := range tests {
		got := classifyExecError("sqlite", "default", errors.New(tt.msg))
		assert.Equal(t, tt.want, got.Kind, tt.msg)
	}
}

func TestClassifyOracleCodes(t *testing.T) {
	assert.Equal(t, ErrKindNotFound,
		classifyExecError("oracle", "ora", errors.New("ORA-00942: table or view does not exist")).Kind)
	assert.Equal(t, ErrKindUnique,
		classifyExecError("oracle", "ora", errors.New("ORA-00001: unique constraint violated")).Kind)
	assert.Equal(t, ErrKindPermission,
		classifyExecError("oracle", "ora", errors.New("ORA-01031: insufficient privileges")).Kind)
}

func TestClassifyContextErrors(t *testing.T) {
	got := classifyExecError("postgres", "default", context.DeadlineExceeded)
	assert.Equal(t, ErrKindTimeout, got.Kind)
	assert.True(t, got.Retryable())

	got = classifyExecError("sqlite", "default", errors.New("some driver failure"))
	assert.Equal(t, ErrKindOther, got.Kind)
	assert.False(t, got.Retryable())
}

func TestExecErrorMessage(t *testing.T) {
	e := &ExecError{Kind: ErrKindNotFound, Backend: "db_missing", Message: "backend db_missing is not registered"}
	assert.Contains(t, e.Error(), "db_missing")
	assert.Contains(t, e.Error(), "NotFound")
}
