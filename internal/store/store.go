// Package store gives the pipeline a schema-restricted handle on the sales
// dataset. SQLite files, DuckDB files or parquet exports and PostgreSQL are
// supported behind the same Handle.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/config"
	"github.com/salesqa/salesqa/internal/storage"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

// ErrUnavailable marks failures to reach the store, as opposed to a store
// that is reachable but misconfigured.
var ErrUnavailable = errors.New("store unavailable")

// ObjectStoreOpener opens the object store holding bucket. It is used when
// a DuckDB descriptor points at an s3:// parquet export.
type ObjectStoreOpener func(ctx context.Context, bucket string) (storage.ObjectStore, error)

// Descriptor identifies the data store and the tables the pipeline may see.
type Descriptor struct {
	Dialect Dialect
	// Path is the database or parquet file for embedded dialects. DuckDB also
	// accepts an s3://bucket/key parquet URI.
	Path string
	// DSN is the connection string for PostgreSQL.
	DSN             string
	Tables          []string
	SampleRows      int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	ObjectStores    ObjectStoreOpener
	CacheDir        string
}

// Result is a row-mapped query result.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ExecutionError wraps a failed statement. Its message is the driver's.
type ExecutionError struct {
	Dialect Dialect
	SQL     string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e == nil || e.Err == nil {
		return "execution error"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParseURL reads a database URL. Embedded stores use the three-slash form,
// so sqlite:///./sales.db is relative and sqlite:////data/sales.db absolute.
func ParseURL(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Descriptor{}, fmt.Errorf("database url is required")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Descriptor{Dialect: DialectPostgres, DSN: raw}, nil
	case strings.HasPrefix(raw, "duckdb://s3://"):
		return Descriptor{Dialect: DialectDuckDB, Path: strings.TrimPrefix(raw, "duckdb://")}, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Descriptor{}, fmt.Errorf("invalid database url %q", raw)
	}
	var dialect Dialect
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		dialect = DialectSQLite
	case "duckdb":
		dialect = DialectDuckDB
	default:
		return Descriptor{}, fmt.Errorf("unsupported database url scheme %q", scheme)
	}
	path, ok := strings.CutPrefix(rest, "/")
	if !ok || path == "" {
		return Descriptor{}, fmt.Errorf("invalid %s url %q: expected %s:///path", dialect, raw, scheme)
	}
	return Descriptor{Dialect: dialect, Path: path}, nil
}

// DescriptorFrom builds a descriptor from service configuration.
func DescriptorFrom(storeCfg config.StoreConfig, sqlCfg config.SQLConfig, objectStores ObjectStoreOpener, cacheDir string) (Descriptor, error) {
	desc, err := ParseURL(storeCfg.URL)
	if err != nil {
		return Descriptor{}, err
	}
	desc.Tables = append([]string(nil), storeCfg.Tables...)
	desc.SampleRows = storeCfg.SampleRows
	desc.MaxOpenConns = storeCfg.MaxOpenConns
	desc.MaxIdleConns = storeCfg.MaxIdleConns
	desc.ConnMaxLifetime = storeCfg.ConnMaxLifetime
	desc.QueryTimeout = sqlCfg.ExecuteTimeout
	desc.ObjectStores = objectStores
	desc.CacheDir = cacheDir
	return desc, nil
}

func (d Descriptor) validate() error {
	switch d.Dialect {
	case DialectSQLite, DialectDuckDB:
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("%s path is required", d.Dialect)
		}
	case DialectPostgres:
		if strings.TrimSpace(d.DSN) == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unsupported dialect %q", d.Dialect)
	}
	if len(d.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	for _, table := range d.Tables {
		if strings.TrimSpace(table) == "" {
			return fmt.Errorf("table names must not be empty")
		}
	}
	if d.SampleRows < 0 {
		return fmt.Errorf("sample rows must be >= 0")
	}
	return nil
}
