package core

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/qbloq/askdb/core/internal/dialect"
)

// ErrorKind is the stable, user-facing execution error classification.
type ErrorKind string

const (
	ErrKindSyntax     ErrorKind = "Syntax"
	ErrKindNotFound   ErrorKind = "NotFound"
	ErrKindUnique     ErrorKind = "UniqueViolation"
	ErrKindForeignKey ErrorKind = "ForeignKeyViolation"
	ErrKindPermission ErrorKind = "Permission"
	ErrKindTimeout    ErrorKind = "Timeout"
	ErrKindConnection ErrorKind = "Connection"
	ErrKindOther      ErrorKind = "Other"
)

// ExecError is a classified execution failure tied to one backend.
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Backend string    `json:"backend_id,omitempty"`
	Message string    `json:"message"`
	err     error
}

func (e *ExecError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Backend, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error { return e.err }

// Retryable reports whether the executor may retry the statement.
// Only transient failures qualify; mutations are never auto-retried.
func (e *ExecError) Retryable() bool {
	return e.Kind == ErrKindConnection || e.Kind == ErrKindTimeout
}

// classifyExecError maps a driver error onto the taxonomy using the
// backend's dialect.
func classifyExecError(dialectName, backendID string, err error) *ExecError {
	kind := ErrKindOther

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrKindTimeout
	case errors.Is(err, driver.ErrBadConn):
		kind = ErrKindConnection
	case isNetError(err):
		kind = ErrKindConnection
	default:
		switch dialectName {
		case dialect.Postgres:
			kind = classifyPostgres(err)
		case dialect.MySQL:
			kind = classifyMysql(err)
		case dialect.SQLite:
			kind = classifySqlite(err)
		case dialect.MSSQL:
			kind = classifyMssql(err)
		case dialect.Oracle:
			kind = classifyOracle(err)
		}
	}

	return &ExecError{Kind: kind, Backend: backendID, Message: err.Error(), err: err}
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func classifyPostgres(err error) ErrorKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ErrKindOther
	}
	code := pgErr.Code
	switch {
	case strings.HasPrefix(code, "08"):
		return ErrKindConnection
	case code == "23503":
		return ErrKindForeignKey
	case code == "23505":
		return ErrKindUnique
	case code == "42601":
		return ErrKindSyntax
	case code == "42501":
		return ErrKindPermission
	case code == "42P01", code == "42703":
		return ErrKindNotFound
	case code == "57014":
		return ErrKindTimeout
	}
	return ErrKindOther
}

func classifyMysql(err error) ErrorKind {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return ErrKindOther
	}
	switch myErr.Number {
	case 1064:
		return ErrKindSyntax
	case 1146, 1054:
		return ErrKindNotFound
	case 1062:
		return ErrKindUnique
	case 1451, 1452:
		return ErrKindForeignKey
	case 1044, 1045, 1142:
		return ErrKindPermission
	case 3024, 1317:
		return ErrKindTimeout
	case 2002, 2003, 2006, 2013:
		return ErrKindConnection
	}
	return ErrKindOther
}

// classifySqlite falls back to message matching; the modernc driver
// does not expose typed error codes across its API boundary.
func classifySqlite(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return ErrKindNotFound
	case strings.Contains(msg, "syntax error"):
		return ErrKindSyntax
	case strings.Contains(msg, "unique constraint"):
		return ErrKindUnique
	case strings.Contains(msg, "foreign key constraint"):
		return ErrKindForeignKey
	case strings.Contains(msg, "readonly"), strings.Contains(msg, "read-only"):
		return ErrKindPermission
	case strings.Contains(msg, "interrupted"):
		return ErrKindTimeout
	case strings.Contains(msg, "database is locked"):
		return ErrKindConnection
	}
	return ErrKindOther
}

func classifyMssql(err error) ErrorKind {
	var sqlErr mssql.Error
	if !errors.As(err, &sqlErr) {
		return ErrKindOther
	}
	switch sqlErr.Number {
	case 102, 105, 156:
		return ErrKindSyntax
	case 208, 207:
		return ErrKindNotFound
	case 2601, 2627:
		return ErrKindUnique
	case 547:
		return ErrKindForeignKey
	case 229, 230, 18456:
		return ErrKindPermission
	case 1222:
		return ErrKindTimeout
	}
	return ErrKindOther
}

// classifyOracle matches ORA- codes in the message; go-ora surfaces
// server errors as formatted strings.
func classifyOracle(err error) ErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ORA-00942"), strings.Contains(msg, "ORA-00904"):
		return ErrKindNotFound
	case strings.Contains(msg, "ORA-00933"), strings.Contains(msg, "ORA-00936"),
		strings.Contains(msg, "ORA-00907"):
		return ErrKindSyntax
	case strings.Contains(msg, "ORA-00001"):
		return ErrKindUnique
	case strings.Contains(msg, "ORA-02291"), strings.Contains(msg, "ORA-02292"):
		return ErrKindForeignKey
	case strings.Contains(msg, "ORA-01031"), strings.Contains(msg, "ORA-01017"):
		return ErrKindPermission
	case strings.Contains(msg, "ORA-01013"), strings.Contains(msg, "ORA-02049"):
		return ErrKindTimeout
	case strings.Contains(msg, "ORA-12541"), strings.Contains(msg, "ORA-03113"):
		return ErrKindConnection
	}
	return ErrKindOther
}
