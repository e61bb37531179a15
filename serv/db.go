package serv

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/qbloq/askdb/core"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

type dbConf struct {
	driverName string
	connString string
}

// NewDB opens a connection pool for the given backend config
func NewDB(dc *core.DatabaseConfig, appName string, log *zap.SugaredLogger) (*sql.DB, error) {
	return newDB(dc, appName, false, log)
}

// initDBDriver initializes the database driver config based on the backend type
func initDBDriver(dc *core.DatabaseConfig, appName string) (*dbConf, error) {
	dbType := dc.Type
	if dbType == "" {
		dbType = core.DialectFromURL(dc.URL)
	}

	switch dbType {
	case "postgres":
		return initPostgres(dc, appName)
	case "mysql", "mariadb":
		return initMysql(dc)
	case "mssql":
		return initMssql(dc)
	case "sqlite":
		return initSqlite(dc)
	case "oracle":
		return initOracle(dc)
	default:
		return nil, fmt.Errorf("unsupported database type %q: supported types are postgres, mysql, mariadb, mssql, sqlite, oracle", dbType)
	}
}

// newDB initializes the database, with a retry loop when retry is set
func newDB(dc *core.DatabaseConfig, appName string, retry bool, log *zap.SugaredLogger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	cc, err := initDBDriver(dc, appName)
	if err != nil {
		return nil, fmt.Errorf("database init: %v", err)
	}

	poolSize := dc.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	for i := 0; ; {
		db, err = sql.Open(cc.driverName, cc.connString)
		if err == nil {
			db.SetMaxIdleConns(poolSize)
			db.SetMaxOpenConns(poolSize * 2)
			db.SetConnMaxIdleTime(30 * time.Minute)

			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close() //nolint:errcheck
			log.Warnf("database ping: %s", err)
		} else {
			log.Warnf("database open: %s", err)
		}

		if !retry || i > 50 {
			return nil, err
		}
		i++
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
}

// initPostgres initializes the postgres connection config
func initPostgres(dc *core.DatabaseConfig, appName string) (*dbConf, error) {
	config, err := pgx.ParseConfig(dc.URL)
	if err != nil {
		return nil, err
	}

	if config.RuntimeParams == nil {
		config.RuntimeParams = map[string]string{}
	}

	if dc.Schema != "" {
		config.RuntimeParams["search_path"] = dc.Schema
	}

	if appName != "" {
		config.RuntimeParams["application_name"] = appName
	}

	return &dbConf{driverName: "pgx", connString: stdlib.RegisterConnConfig(config)}, nil
}

// initMysql initializes the mysql connection config
func initMysql(dc *core.DatabaseConfig) (*dbConf, error) {
	// the driver DSN has no scheme prefix
	connString := strings.TrimPrefix(dc.URL, "mysql://")
	return &dbConf{driverName: "mysql", connString: connString}, nil
}

// initMssql initializes the mssql connection config
func initMssql(dc *core.DatabaseConfig) (*dbConf, error) {
	connString := dc.URL
	if strings.HasPrefix(connString, "mssql://") {
		connString = "sqlserver://" + strings.TrimPrefix(connString, "mssql://")
	}
	return &dbConf{driverName: "sqlserver", connString: connString}, nil
}

// initSqlite initializes the sqlite connection config
func initSqlite(dc *core.DatabaseConfig) (*dbConf, error) {
	connString := strings.TrimPrefix(dc.URL, "sqlite://")
	if connString == "" {
		return nil, fmt.Errorf("sqlite requires a connection string or path")
	}
	return &dbConf{driverName: "sqlite", connString: connString}, nil
}

// initOracle initializes the oracle connection config
func initOracle(dc *core.DatabaseConfig) (*dbConf, error) {
	return &dbConf{driverName: "oracle", connString: dc.URL}, nil
}
