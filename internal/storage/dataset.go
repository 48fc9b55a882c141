package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const ParquetContentType = "application/vnd.apache.parquet"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// ObjectURI addresses one object as s3://bucket/key.
type ObjectURI struct {
	Bucket string
	Key    string
}

func (u ObjectURI) String() string {
	return "s3://" + u.Bucket + "/" + u.Key
}

func IsObjectURI(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "s3://")
}

func ParseObjectURI(raw string) (ObjectURI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ObjectURI{}, fmt.Errorf("parse object uri: %w", err)
	}
	if parsed.Scheme != "s3" {
		return ObjectURI{}, fmt.Errorf("invalid object uri %q: scheme must be s3", raw)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host == "" || key == "" {
		return ObjectURI{}, fmt.Errorf("invalid object uri %q: bucket and key are required", raw)
	}
	return ObjectURI{Bucket: parsed.Host, Key: key}, nil
}

// DatasetKey is the object key of a table's parquet export.
func DatasetKey(tableName string) (string, error) {
	if !tableNamePattern.MatchString(tableName) {
		return "", fmt.Errorf("invalid table name: %q", tableName)
	}
	return path.Join("datasets", tableName, tableName+".parquet"), nil
}

// Fetch copies an object into dir and returns the local path.
func Fetch(ctx context.Context, store ObjectStore, key, dir string) (string, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create fetch dir: %w", err)
	}
	localPath := filepath.Join(dir, sanitizeFileComponent(path.Base(key)))
	if err := writeFile(localPath, reader); err != nil {
		return "", fmt.Errorf("write local copy of %q: %w", key, err)
	}
	return localPath, nil
}

// Upload stores a local file under key.
func Upload(ctx context.Context, store ObjectStore, key, localPath, contentType string) (ObjectInfo, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("open %q: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %q: %w", localPath, err)
	}
	info, err := store.Put(ctx, key, file, stat.Size(), PutOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" || value == "." {
		return "dataset"
	}
	return value
}
