package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseObjectURI(t *testing.T) {
	uri, err := ParseObjectURI("s3://sales-bucket/datasets/sales_data/sales_data.parquet")
	if err != nil {
		t.Fatalf("ParseObjectURI() error = %v", err)
	}
	if uri.Bucket != "sales-bucket" || uri.Key != "datasets/sales_data/sales_data.parquet" {
		t.Fatalf("uri = %+v", uri)
	}
	if uri.String() != "s3://sales-bucket/datasets/sales_data/sales_data.parquet" {
		t.Fatalf("String() = %q", uri.String())
	}
}

func TestParseObjectURIRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"http://bucket/key", "s3://bucket", "s3:///key", "sales.db"} {
		if _, err := ParseObjectURI(raw); err == nil {
			t.Fatalf("ParseObjectURI(%q) expected error", raw)
		}
	}
}

func TestDatasetKey(t *testing.T) {
	key, err := DatasetKey("sales_data")
	if err != nil {
		t.Fatalf("DatasetKey() error = %v", err)
	}
	if key != "datasets/sales_data/sales_data.parquet" {
		t.Fatalf("DatasetKey() = %q", key)
	}
	if _, err := DatasetKey("../etc"); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestFetchAndUploadRoundTrip(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	dir := t.TempDir()
	source := filepath.Join(dir, "source.parquet")
	if err := os.WriteFile(source, []byte("PAR1-data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	info, err := Upload(context.Background(), store, "datasets/sales_data/sales_data.parquet", source, ParquetContentType)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if info.Size != int64(len("PAR1-data")) {
		t.Fatalf("Upload().Size = %d", info.Size)
	}
	if store.contentTypes["datasets/sales_data/sales_data.parquet"] != ParquetContentType {
		t.Fatalf("content type = %q", store.contentTypes["datasets/sales_data/sales_data.parquet"])
	}

	localPath, err := Fetch(context.Background(), store, "datasets/sales_data/sales_data.parquet", filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if string(content) != "PAR1-data" {
		t.Fatalf("fetched content = %q", content)
	}
	if filepath.Base(localPath) != "sales_data.parquet" {
		t.Fatalf("local path = %q", localPath)
	}
}

func TestFetchMissingObject(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	_, err := Fetch(context.Background(), store, "missing.parquet", t.TempDir())
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Fetch() error = %v, want ErrObjectNotFound", err)
	}
}

type memoryStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts PutOptions) (ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	m.objects[key] = payload
	if m.contentTypes == nil {
		m.contentTypes = map[string]string{}
	}
	m.contentTypes[key] = opts.ContentType
	return ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	payload, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}
