package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/salesqa/salesqa/internal/storage"
)

// Open connects to the store described by desc and checks that every
// configured table exists.
func Open(ctx context.Context, desc Descriptor) (*Handle, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	d := dialectFor(desc.Dialect)

	var (
		db  *sql.DB
		err error
	)
	switch desc.Dialect {
	case DialectSQLite:
		db, err = openSQLite(desc)
	case DialectDuckDB:
		db, err = openDuckDB(ctx, desc)
	case DialectPostgres:
		db, err = sql.Open("pgx", desc.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", desc.Dialect, err)
	}

	if desc.MaxOpenConns > 0 {
		db.SetMaxOpenConns(desc.MaxOpenConns)
	}
	if desc.MaxIdleConns > 0 {
		db.SetMaxIdleConns(desc.MaxIdleConns)
	}
	if desc.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(desc.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s store: %w", ErrUnavailable, desc.Dialect, err)
	}

	handle, err := newHandle(ctx, db, d, desc)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return handle, nil
}

// OpenWithRetry retries Open while the store is unreachable, giving up after
// maxElapsed. Configuration problems such as a missing table fail at once.
func OpenWithRetry(ctx context.Context, desc Descriptor, maxElapsed time.Duration, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "store not ready, retrying",
				slog.String("dialect", string(desc.Dialect)),
				slog.Duration("retry_in", next),
				slog.Any("error", err),
			)
		}),
	}
	if maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(maxElapsed))
	} else {
		opts = append(opts, backoff.WithMaxTries(1))
	}
	return backoff.Retry(ctx, func() (*Handle, error) {
		handle, err := Open(ctx, desc)
		if err == nil {
			return handle, nil
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, opts...)
}

func openSQLite(desc Descriptor) (*sql.DB, error) {
	if _, err := os.Stat(desc.Path); err != nil {
		return nil, fmt.Errorf("sqlite database %q: %w", desc.Path, err)
	}
	return sql.Open("sqlite3", "file:"+filepath.ToSlash(desc.Path)+"?mode=ro")
}

func openDuckDB(ctx context.Context, desc Descriptor) (*sql.DB, error) {
	source := strings.TrimSpace(desc.Path)
	if storage.IsObjectURI(source) {
		local, err := fetchObject(ctx, desc, source)
		if err != nil {
			return nil, err
		}
		source = local
	}

	if !strings.EqualFold(filepath.Ext(source), ".parquet") {
		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("duckdb database %q: %w", source, err)
		}
		return sql.Open("duckdb", source+"?access_mode=read_only&enable_external_access=false")
	}

	if len(desc.Tables) != 1 {
		return nil, fmt.Errorf("a parquet source serves exactly one table, got %d", len(desc.Tables))
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	// The export is loaded up front: once external access is off, the
	// parquet file can no longer be read.
	loadSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(desc.Tables[0]), quoteString(source))
	if _, err := db.ExecContext(ctx, loadSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load parquet into table %q: %w", desc.Tables[0], err)
	}
	if _, err := db.ExecContext(ctx, `SET enable_external_access = false`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable external access: %w", err)
	}
	return db, nil
}

func fetchObject(ctx context.Context, desc Descriptor, rawURI string) (string, error) {
	uri, err := storage.ParseObjectURI(rawURI)
	if err != nil {
		return "", err
	}
	if desc.ObjectStores == nil {
		return "", fmt.Errorf("object store access is not configured for %s", uri)
	}
	objects, err := desc.ObjectStores(ctx, uri.Bucket)
	if err != nil {
		return "", fmt.Errorf("%w: open bucket %q: %w", ErrUnavailable, uri.Bucket, err)
	}
	dir := desc.CacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	local, err := storage.Fetch(ctx, objects, uri.Key, filepath.Join(dir, "salesqa", uri.Bucket))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return local, nil
}
