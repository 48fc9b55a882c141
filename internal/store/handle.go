package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/salesqa/salesqa/internal/observability"
)

// Handle is a live, table-restricted connection. It is safe for concurrent
// use; the underlying pool is shared by all callers.
type Handle struct {
	db      *sql.DB
	dialect dialect
	tables  []string
	desc    Descriptor
}

func newHandle(ctx context.Context, db *sql.DB, d dialect, desc Descriptor) (*Handle, error) {
	existing, err := d.listTables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list %s tables: %w", d.name(), err)
	}
	tables, err := resolveTables(desc.Tables, existing)
	if err != nil {
		return nil, err
	}
	return &Handle{db: db, dialect: d, tables: tables, desc: desc}, nil
}

// resolveTables maps configured names onto the store's spelling. Every
// configured table must exist.
func resolveTables(wanted, existing []string) ([]string, error) {
	byLower := make(map[string]string, len(existing))
	exact := make(map[string]bool, len(existing))
	for _, name := range existing {
		exact[name] = true
		byLower[strings.ToLower(name)] = name
	}
	resolved := make([]string, 0, len(wanted))
	missing := make([]string, 0)
	for _, name := range wanted {
		name = strings.TrimSpace(name)
		switch {
		case exact[name]:
			resolved = append(resolved, name)
		case byLower[strings.ToLower(name)] != "":
			resolved = append(resolved, byLower[strings.ToLower(name)])
		default:
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tables %s not found in database", strings.Join(missing, ", "))
	}
	return resolved, nil
}

func (h *Handle) Dialect() Dialect { return h.dialect.name() }

// UsableTables lists the tables the pipeline may reference.
func (h *Handle) UsableTables() []string {
	return append([]string(nil), h.tables...)
}

func (h *Handle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *Handle) Close() error {
	return h.db.Close()
}

// SchemaSummary describes every usable table as a CREATE TABLE block followed
// by a comment holding a few sample rows.
func (h *Handle) SchemaSummary(ctx context.Context) (string, error) {
	blocks := make([]string, 0, len(h.tables))
	for _, table := range h.tables {
		block, err := h.describeTable(ctx, table)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}
	return "\n" + strings.Join(blocks, "\n\n"), nil
}

func (h *Handle) describeTable(ctx context.Context, table string) (string, error) {
	cols, err := h.dialect.columns(ctx, h.db, table)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(renderCreateTable(table, cols))
	if h.desc.SampleRows <= 0 {
		return b.String(), nil
	}

	columns, rows, err := h.fetch(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), h.desc.SampleRows))
	if err != nil {
		return "", fmt.Errorf("sample rows from %q: %w", table, err)
	}
	b.WriteString("\n\n/*\n")
	fmt.Fprintf(&b, "%d rows from %s table:\n", h.desc.SampleRows, table)
	b.WriteString(strings.Join(columns, "\t"))
	b.WriteString("\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = truncate(formatValue(value), 100)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String(), nil
}

// Run executes sqlText unchanged and renders the result as a text table.
// A statement returning no rows yields an empty string.
func (h *Handle) Run(ctx context.Context, sqlText string) (string, error) {
	columns, rows, err := h.execute(ctx, sqlText)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return renderTable(columns, rows), nil
}

// Query executes sqlText unchanged and returns the rows keyed by column.
func (h *Handle) Query(ctx context.Context, sqlText string) (Result, error) {
	columns, rows, err := h.execute(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	mapped := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = row[i]
		}
		mapped = append(mapped, record)
	}
	return Result{Columns: columns, Rows: mapped}, nil
}

func (h *Handle) execute(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	if h.desc.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.desc.QueryTimeout)
		defer cancel()
	}
	columns, rows, err := h.fetch(ctx, sqlText)
	observability.ObserveStoreQuery(string(h.dialect.name()), err != nil)
	if err != nil {
		return nil, nil, &ExecutionError{Dialect: h.dialect.name(), SQL: sqlText, Err: err}
	}
	return columns, rows, nil
}

func (h *Handle) fetch(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	rows, err := h.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, resultRows, nil
}
