package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Introspect reads table, column, primary key and foreign key metadata
// from db using the given dialect's catalog and returns a validated
// snapshot. schemaName scopes catalog queries for databases that have
// schemas; empty means the connection default.
func Introspect(ctx context.Context, db *sql.DB, dialectName, backendID, schemaName string, ttl time.Duration) (*Snapshot, error) {
	var (
		tables []Table
		err    error
	)

	switch strings.ToLower(dialectName) {
	case "postgres", "unknown", "":
		tables, err = introspectPostgres(ctx, db, schemaName)
	case "mysql", "mariadb":
		tables, err = introspectMysql(ctx, db, schemaName)
	case "sqlite":
		tables, err = introspectSqlite(ctx, db)
	case "mssql":
		tables, err = introspectMssql(ctx, db, schemaName)
	case "oracle":
		tables, err = introspectOracle(ctx, db)
	default:
		return nil, fmt.Errorf("introspection not supported for dialect %q", dialectName)
	}
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", backendID, err)
	}

	snap := &Snapshot{
		BackendID: backendID,
		Tables:    tables,
		FetchedAt: time.Now(),
		TTL:       ttl,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func introspectPostgres(ctx context.Context, db *sql.DB, schemaName string) ([]Table, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	const colQuery = `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	byName, order, err := collectColumns(ctx, db, colQuery, schemaName)
	if err != nil {
		return nil, err
	}

	const pkQuery = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
ORDER BY tc.table_name, kcu.ordinal_position`

	if err := collectPrimaryKeys(ctx, db, pkQuery, byName, schemaName); err != nil {
		return nil, err
	}

	const fkQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name
 AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`

	if err := collectForeignKeys(ctx, db, fkQuery, byName, schemaName); err != nil {
		return nil, err
	}

	return orderedTables(byName, order), nil
}

func introspectMysql(ctx context.Context, db *sql.DB, schemaName string) ([]Table, error) {
	schemaExpr := "DATABASE()"
	args := []any{}
	if schemaName != "" {
		schemaExpr = "?"
		args = append(args, schemaName)
	}

	colQuery := `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ` + schemaExpr + `
ORDER BY table_name, ordinal_position`

	byName, order, err := collectColumns(ctx, db, colQuery, args...)
	if err != nil {
		return nil, err
	}

	pkQuery := `
SELECT table_name, column_name
FROM information_schema.key_column_usage
WHERE table_schema = ` + schemaExpr + ` AND constraint_name = 'PRIMARY'
ORDER BY table_name, ordinal_position`

	if err := collectPrimaryKeys(ctx, db, pkQuery, byName, args...); err != nil {
		return nil, err
	}

	fkQuery := `
SELECT table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = ` + schemaExpr + ` AND referenced_table_name IS NOT NULL`

	if err := collectForeignKeys(ctx, db, fkQuery, byName, args...); err != nil {
		return nil, err
	}

	return orderedTables(byName, order), nil
}

func introspectSqlite(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t := Table{Name: name}

		// PRAGMA table_info: cid, name, type, notnull, dflt_value, pk
		crows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
		if err != nil {
			return nil, err
		}
		type pkCol struct {
			name string
			ord  int
		}
		var pks []pkCol
		for crows.Next() {
			var (
				cid     int
				cname   string
				ctype   string
				notnull int
				dflt    sql.NullString
				pk      int
			)
			if err := crows.Scan(&cid, &cname, &ctype, &notnull, &dflt, &pk); err != nil {
				crows.Close() //nolint:errcheck
				return nil, err
			}
			col := Column{Name: cname, Type: ctype, Nullable: notnull == 0}
			if dflt.Valid {
				v := dflt.String
				col.Default = &v
			}
			t.Columns = append(t.Columns, col)
			if pk > 0 {
				pks = append(pks, pkCol{cname, pk})
			}
		}
		crows.Close() //nolint:errcheck
		sort.Slice(pks, func(i, j int) bool { return pks[i].ord < pks[j].ord })
		for _, p := range pks {
			t.PrimaryKey = append(t.PrimaryKey, p.name)
		}

		// PRAGMA foreign_key_list: id, seq, table, from, to, ...
		frows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", name))
		if err != nil {
			return nil, err
		}
		fks := map[int]*ForeignKey{}
		var fkOrder []int
		for frows.Next() {
			var (
				id, seq             int
				refTable, from, to  string
				onUpd, onDel, match string
			)
			if err := frows.Scan(&id, &seq, &refTable, &from, &to, &onUpd, &onDel, &match); err != nil {
				frows.Close() //nolint:errcheck
				return nil, err
			}
			fk, ok := fks[id]
			if !ok {
				fk = &ForeignKey{RefTable: refTable}
				fks[id] = fk
				fkOrder = append(fkOrder, id)
			}
			fk.Columns = append(fk.Columns, from)
			fk.RefColumns = append(fk.RefColumns, to)
		}
		frows.Close() //nolint:errcheck
		for _, id := range fkOrder {
			t.ForeignKeys = append(t.ForeignKeys, *fks[id])
		}

		tables = append(tables, t)
	}
	return tables, nil
}

func introspectMssql(ctx context.Context, db *sql.DB, schemaName string) ([]Table, error) {
	if schemaName == "" {
		schemaName = "dbo"
	}

	const colQuery = `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = @p1
ORDER BY table_name, ordinal_position`

	byName, order, err := collectColumns(ctx, db, colQuery, sql.Named("p1", schemaName))
	if err != nil {
		return nil, err
	}

	const pkQuery = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = @p1
ORDER BY tc.table_name, kcu.ordinal_position`

	if err := collectPrimaryKeys(ctx, db, pkQuery, byName, sql.Named("p1", schemaName)); err != nil {
		return nil, err
	}

	const fkQuery = `
SELECT fk_tab.name, fk_col.name, pk_tab.name, pk_col.name
FROM sys.foreign_key_columns fkc
JOIN sys.tables fk_tab ON fk_tab.object_id = fkc.parent_object_id
JOIN sys.columns fk_col ON fk_col.object_id = fkc.parent_object_id AND fk_col.column_id = fkc.parent_column_id
JOIN sys.tables pk_tab ON pk_tab.object_id = fkc.referenced_object_id
JOIN sys.columns pk_col ON pk_col.object_id = fkc.referenced_object_id AND pk_col.column_id = fkc.referenced_column_id`

	if err := collectForeignKeys(ctx, db, fkQuery, byName); err != nil {
		return nil, err
	}

	return orderedTables(byName, order), nil
}

func introspectOracle(ctx context.Context, db *sql.DB) ([]Table, error) {
	const colQuery = `
SELECT table_name, column_name, data_type, nullable, data_default
FROM user_tab_columns
ORDER BY table_name, column_id`

	byName, order, err := collectColumns(ctx, db, colQuery)
	if err != nil {
		return nil, err
	}

	const pkQuery = `
SELECT c.table_name, cc.column_name
FROM user_constraints c
JOIN user_cons_columns cc ON c.constraint_name = cc.constraint_name
WHERE c.constraint_type = 'P'
ORDER BY c.table_name, cc.position`

	if err := collectPrimaryKeys(ctx, db, pkQuery, byName); err != nil {
		return nil, err
	}

	const fkQuery = `
SELECT c.table_name, cc.column_name, rc.table_name, rcc.column_name
FROM user_constraints c
JOIN user_cons_columns cc ON c.constraint_name = cc.constraint_name
JOIN user_constraints rc ON c.r_constraint_name = rc.constraint_name
JOIN user_cons_columns rcc ON rc.constraint_name = rcc.constraint_name AND rcc.position = cc.position
WHERE c.constraint_type = 'R'`

	if err := collectForeignKeys(ctx, db, fkQuery, byName); err != nil {
		return nil, err
	}

	return orderedTables(byName, order), nil
}

// collectColumns runs a (table, column, type, nullable, default) query
// and groups rows into tables keyed by lowercased name.
func collectColumns(ctx context.Context, db *sql.DB, query string, args ...any) (map[string]*Table, []string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close() //nolint:errcheck

	byName := map[string]*Table{}
	var order []string

	for rows.Next() {
		var (
			table, column, dtype string
			nullable             string
			dflt                 sql.NullString
		)
		if err := rows.Scan(&table, &column, &dtype, &nullable, &dflt); err != nil {
			return nil, nil, err
		}

		key := strings.ToLower(table)
		t, ok := byName[key]
		if !ok {
			t = &Table{Name: table}
			byName[key] = t
			order = append(order, key)
		}

		col := Column{
			Name:     column,
			Type:     dtype,
			Nullable: isYes(nullable),
		}
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}
		t.Columns = append(t.Columns, col)
	}
	return byName, order, rows.Err()
}

func collectPrimaryKeys(ctx context.Context, db *sql.DB, query string, byName map[string]*Table, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return err
		}
		if t, ok := byName[strings.ToLower(table)]; ok {
			t.PrimaryKey = append(t.PrimaryKey, column)
		}
	}
	return rows.Err()
}

func collectForeignKeys(ctx context.Context, db *sql.DB, query string, byName map[string]*Table, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var table, column, refTable, refColumn string
		if err := rows.Scan(&table, &column, &refTable, &refColumn); err != nil {
			return err
		}
		if t, ok := byName[strings.ToLower(table)]; ok {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Columns:    []string{column},
				RefTable:   refTable,
				RefColumns: []string{refColumn},
			})
		}
	}
	return rows.Err()
}

func orderedTables(byName map[string]*Table, order []string) []Table {
	tables := make([]Table, 0, len(order))
	for _, key := range order {
		tables = append(tables, *byName[key])
	}
	return tables
}

// isYes covers the information_schema "YES"/"NO" convention and
// Oracle's single-letter variant.
func isYes(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "Y", "TRUE", "1":
		return true
	}
	return false
}
