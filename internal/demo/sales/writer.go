package sales

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/store"
)

var saleColumns = []string{"id", "org_name", "product_name", "sales_amount", "quantity", "sale_date", "year", "quarter", "month", "region"}

func createTableSQL(dialect store.Dialect, table string) (string, error) {
	switch dialect {
	case store.DialectSQLite:
		return fmt.Sprintf(`CREATE TABLE %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_name TEXT,
	product_name TEXT,
	sales_amount REAL,
	quantity INTEGER,
	sale_date DATE,
	year INTEGER,
	quarter TEXT,
	month TEXT,
	region TEXT
)`, table), nil
	case store.DialectDuckDB:
		return fmt.Sprintf(`CREATE TABLE %s (
	id INTEGER PRIMARY KEY,
	org_name VARCHAR,
	product_name VARCHAR,
	sales_amount DOUBLE,
	quantity INTEGER,
	sale_date DATE,
	year INTEGER,
	quarter VARCHAR,
	month VARCHAR,
	region VARCHAR
)`, table), nil
	case store.DialectPostgres:
		return fmt.Sprintf(`CREATE TABLE %s (
	id SERIAL PRIMARY KEY,
	org_name VARCHAR(100),
	product_name VARCHAR(100),
	sales_amount DECIMAL(15, 2),
	quantity INTEGER,
	sale_date DATE,
	year INTEGER,
	quarter VARCHAR(10),
	month VARCHAR(20),
	region VARCHAR(50)
)`, table), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// WriteTable creates table and inserts rows in batches inside one
// transaction. When replace is set an existing table is dropped first.
func WriteTable(ctx context.Context, db *sql.DB, dialect store.Dialect, table string, rows []Sale, batchSize int, replace bool) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	ddl, err := createTableSQL(dialect, table)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		query, args := insertBatch(dialect, table, rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	return nil
}

func insertBatch(dialect store.Dialect, table string, rows []Sale) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(saleColumns, ", "))

	args := make([]any, 0, len(rows)*len(saleColumns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range saleColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			if dialect == store.DialectPostgres {
				fmt.Fprintf(&b, "$%d", len(args)+j+1)
			} else {
				b.WriteString("?")
			}
		}
		b.WriteString(")")
		args = append(args,
			row.ID,
			row.Organization,
			row.Product,
			row.SalesAmount,
			row.Quantity,
			dateValue(dialect, row.SaleDate),
			row.Year,
			row.Quarter,
			row.Month,
			row.Region,
		)
	}
	return b.String(), args
}

// SQLite has no date type, so dates are stored as ISO text.
func dateValue(dialect store.Dialect, value time.Time) any {
	if dialect == store.DialectSQLite {
		return value.Format(time.DateOnly)
	}
	return value
}

// CountRows reports how many rows table holds.
func CountRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return count, nil
}
