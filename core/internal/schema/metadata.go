package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Metadata table DDL, written to the default backend when schema
// consolidation is invoked. The live cache stays authoritative for
// request-time schema; these tables are an out-of-band view.
var metadataDDL = []string{
	`CREATE TABLE IF NOT EXISTS database_metadata (
		db_id TEXT PRIMARY KEY,
		db_name TEXT,
		db_type TEXT,
		created_at TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS table_metadata (
		db_id TEXT,
		table_name TEXT,
		updated_at TEXT,
		UNIQUE (db_id, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS column_metadata (
		db_id TEXT,
		table_name TEXT,
		column_name TEXT,
		data_type TEXT,
		is_nullable TEXT,
		column_default TEXT,
		UNIQUE (db_id, table_name, column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS primary_key_metadata (
		db_id TEXT,
		table_name TEXT,
		column_name TEXT,
		UNIQUE (db_id, table_name, column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS foreign_key_metadata (
		db_id TEXT,
		table_name TEXT,
		column_name TEXT,
		referenced_table TEXT,
		referenced_column TEXT,
		UNIQUE (db_id, table_name, column_name, referenced_table, referenced_column)
	)`,
}

// BackendMeta identifies one backend for the consolidated view.
type BackendMeta struct {
	ID          string
	DisplayName string
	Dialect     string
}

// Consolidate writes the snapshots into the metadata tables on db,
// replacing prior rows per backend. db must be the default backend and
// its dialect decides placeholder style.
func Consolidate(ctx context.Context, db *sql.DB, dialectName string, metas []BackendMeta, snaps map[string]*Snapshot) error {
	for _, ddl := range metadataDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("metadata ddl: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, meta := range metas {
		snap, ok := snaps[meta.ID]
		if !ok {
			continue
		}
		if err := consolidateOne(ctx, tx, dialectName, meta, snap); err != nil {
			return fmt.Errorf("consolidate %s: %w", meta.ID, err)
		}
	}
	return tx.Commit()
}

func consolidateOne(ctx context.Context, tx *sql.Tx, dialectName string, meta BackendMeta, snap *Snapshot) error {
	now := snap.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00")

	sweeps := []string{
		"DELETE FROM foreign_key_metadata WHERE db_id = ?",
		"DELETE FROM primary_key_metadata WHERE db_id = ?",
		"DELETE FROM column_metadata WHERE db_id = ?",
		"DELETE FROM table_metadata WHERE db_id = ?",
		"DELETE FROM database_metadata WHERE db_id = ?",
	}
	for _, q := range sweeps {
		if _, err := tx.ExecContext(ctx, rebind(dialectName, q), meta.ID); err != nil {
			return err
		}
	}

	q := rebind(dialectName,
		"INSERT INTO database_metadata (db_id, db_name, db_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, q, meta.ID, meta.DisplayName, meta.Dialect, now, now); err != nil {
		return err
	}

	tableQ := rebind(dialectName,
		"INSERT INTO table_metadata (db_id, table_name, updated_at) VALUES (?, ?, ?)")
	colQ := rebind(dialectName,
		"INSERT INTO column_metadata (db_id, table_name, column_name, data_type, is_nullable, column_default) VALUES (?, ?, ?, ?, ?, ?)")
	pkQ := rebind(dialectName,
		"INSERT INTO primary_key_metadata (db_id, table_name, column_name) VALUES (?, ?, ?)")
	fkQ := rebind(dialectName,
		"INSERT INTO foreign_key_metadata (db_id, table_name, column_name, referenced_table, referenced_column) VALUES (?, ?, ?, ?, ?)")

	for _, t := range snap.Tables {
		if _, err := tx.ExecContext(ctx, tableQ, meta.ID, t.Name, now); err != nil {
			return err
		}
		for _, c := range t.Columns {
			nullable := "NO"
			if c.Nullable {
				nullable = "YES"
			}
			var dflt any
			if c.Default != nil {
				dflt = *c.Default
			}
			if _, err := tx.ExecContext(ctx, colQ, meta.ID, t.Name, c.Name, c.Type, nullable, dflt); err != nil {
				return err
			}
		}
		for _, pk := range t.PrimaryKey {
			if _, err := tx.ExecContext(ctx, pkQ, meta.ID, t.Name, pk); err != nil {
				return err
			}
		}
		for _, fk := range t.ForeignKeys {
			for i, col := range fk.Columns {
				ref := ""
				if i < len(fk.RefColumns) {
					ref = fk.RefColumns[i]
				}
				if _, err := tx.ExecContext(ctx, fkQ, meta.ID, t.Name, col, fk.RefTable, ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// rebind converts ?-style placeholders to the dialect's positional
// style. Queries here never contain ? inside literals.
func rebind(dialectName, query string) string {
	switch strings.ToLower(dialectName) {
	case "mysql", "mariadb", "sqlite":
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		switch strings.ToLower(dialectName) {
		case "mssql":
			fmt.Fprintf(&b, "@p%d", n)
		case "oracle":
			fmt.Fprintf(&b, ":%d", n)
		default:
			fmt.Fprintf(&b, "$%d", n)
		}
	}
	return b.String()
}
