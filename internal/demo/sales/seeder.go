// Package sales generates the demo sales dataset and loads it into any of
// the stores the API can serve from.
package sales

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/salesqa/salesqa/internal/storage"
	"github.com/salesqa/salesqa/internal/store"
)

type Service struct {
	cfg          Config
	log          *slog.Logger
	objectStores store.ObjectStoreOpener
}

// Summary describes what a seed run wrote.
type Summary struct {
	Dialect  store.Dialect
	Location string
	Rows     int64
}

func NewService(cfg Config, logger *slog.Logger, objectStores store.ObjectStoreOpener) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{cfg: cfg, log: logger, objectStores: objectStores}, nil
}

func (s *Service) Run(ctx context.Context) (Summary, error) {
	desc, err := store.ParseURL(s.cfg.DatabaseURL)
	if err != nil {
		return Summary{}, err
	}
	rows := NewGenerator(s.cfg.Seed).Generate(s.cfg.Rows)
	s.log.Info("generated sales rows",
		slog.Int("rows", len(rows)),
		slog.Int64("seed", s.cfg.Seed),
		slog.String("dialect", string(desc.Dialect)),
	)

	if desc.Dialect == store.DialectDuckDB && (isParquetTarget(desc.Path) || storage.IsObjectURI(desc.Path)) {
		return s.exportParquet(ctx, desc.Path, rows)
	}
	return s.loadDatabase(ctx, desc, rows)
}

func (s *Service) loadDatabase(ctx context.Context, desc store.Descriptor, rows []Sale) (Summary, error) {
	driver, dsn, location := "", "", desc.Path
	switch desc.Dialect {
	case store.DialectSQLite:
		driver, dsn = "sqlite3", desc.Path
	case store.DialectDuckDB:
		driver, dsn = "duckdb", desc.Path
	case store.DialectPostgres:
		driver, dsn, location = "pgx", desc.DSN, redactDSN(desc.DSN)
	}
	if desc.Path != "" {
		if err := os.MkdirAll(filepath.Dir(desc.Path), 0o755); err != nil {
			return Summary{}, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return Summary{}, fmt.Errorf("open %s: %w", desc.Dialect, err)
	}
	defer func() { _ = db.Close() }()

	if err := WriteTable(ctx, db, desc.Dialect, s.cfg.Table, rows, s.cfg.BatchSize, s.cfg.Replace); err != nil {
		return Summary{}, err
	}
	count, err := CountRows(ctx, db, s.cfg.Table)
	if err != nil {
		return Summary{}, err
	}
	s.log.Info("seeded sales table",
		slog.String("table", s.cfg.Table),
		slog.String("location", location),
		slog.Int64("rows", count),
	)
	return Summary{Dialect: desc.Dialect, Location: location, Rows: count}, nil
}

func (s *Service) exportParquet(ctx context.Context, target string, rows []Sale) (Summary, error) {
	local := target
	remote := storage.IsObjectURI(target)
	if remote {
		tmp, err := os.CreateTemp("", s.cfg.Table+"-*.parquet")
		if err != nil {
			return Summary{}, fmt.Errorf("create temp parquet file: %w", err)
		}
		local = tmp.Name()
		_ = tmp.Close()
		defer func() { _ = os.Remove(local) }()
	} else if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return Summary{}, fmt.Errorf("create parquet dir: %w", err)
	}

	if err := writeParquetFile(local, rows); err != nil {
		return Summary{}, err
	}
	summary := Summary{Dialect: store.DialectDuckDB, Location: local, Rows: int64(len(rows))}

	if remote {
		uri, err := s.publish(ctx, target, local)
		if err != nil {
			return Summary{}, err
		}
		summary.Location = uri.String()
	}
	s.log.Info("exported sales parquet",
		slog.String("location", summary.Location),
		slog.Int64("rows", summary.Rows),
	)
	return summary, nil
}

func (s *Service) publish(ctx context.Context, target, local string) (storage.ObjectURI, error) {
	uri, err := storage.ParseObjectURI(target)
	if err != nil {
		return storage.ObjectURI{}, err
	}
	if s.objectStores == nil {
		return storage.ObjectURI{}, fmt.Errorf("object store access is not configured for %s", uri)
	}
	objects, err := s.objectStores(ctx, uri.Bucket)
	if err != nil {
		return storage.ObjectURI{}, fmt.Errorf("open bucket %q: %w", uri.Bucket, err)
	}
	info, err := storage.Upload(ctx, objects, uri.Key, local, storage.ParquetContentType)
	if err != nil {
		return storage.ObjectURI{}, fmt.Errorf("upload %s: %w", uri, err)
	}
	s.log.Debug("uploaded parquet export", slog.String("key", info.Key), slog.Int64("size", info.Size))
	return uri, nil
}

// DatasetURI is the conventional location of a table export in bucket.
func DatasetURI(bucket, table string) (string, error) {
	key, err := storage.DatasetKey(table)
	if err != nil {
		return "", err
	}
	return storage.ObjectURI{Bucket: bucket, Key: key}.String(), nil
}

func writeParquetFile(path string, rows []Sale) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	if err := WriteParquet(file, rows); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func isParquetTarget(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".parquet")
}

func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
