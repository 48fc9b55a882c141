package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

type dialect interface {
	name() Dialect
	listTables(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]column, error)
}

func dialectFor(d Dialect) dialect {
	switch d {
	case DialectSQLite:
		return sqliteDialect{}
	default:
		return informationSchemaDialect{dialect: d}
	}
}

type sqliteDialect struct{}

func (sqliteDialect) name() Dialect { return DialectSQLite }

func (sqliteDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

func (sqliteDialect) columns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make([]column, 0)
	for rows.Next() {
		var (
			col     column
			notNull int
			pk      int
		)
		if err := rows.Scan(&col.Name, &col.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		col.Type = strings.ToUpper(strings.TrimSpace(col.Type))
		col.NotNull = notNull != 0
		col.PrimaryKey = pk > 0
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return cols, nil
}

// informationSchemaDialect serves DuckDB and PostgreSQL, which both expose
// information_schema and current_schema().
type informationSchemaDialect struct {
	dialect Dialect
}

func (d informationSchemaDialect) name() Dialect { return d.dialect }

func (informationSchemaDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`)
}

func (informationSchemaDialect) columns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make([]column, 0)
	for rows.Next() {
		var (
			col      column
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		col.Type = strings.ToUpper(strings.TrimSpace(col.Type))
		col.NotNull = strings.EqualFold(nullable, "NO")
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return cols, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
