package sales

import (
	"bytes"
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/salesqa/salesqa/internal/store"
)

func TestWriteTablePostgresBatches(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	rows := NewGenerator(1).Generate(3)
	ddl, err := createTableSQL(store.DialectPostgres, "sales_data")
	if err != nil {
		t.Fatalf("createTableSQL() error = %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS sales_data")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(ddl)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sales_data (id, org_name, product_name, sales_amount, quantity, sale_date, year, quarter, month, region) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10), ($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)")).
		WithArgs(rowArgs(rows[:2])...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)")).
		WithArgs(rowArgs(rows[2:])...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := WriteTable(context.Background(), db, store.DialectPostgres, "sales_data", rows, 2, true); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestWriteTableRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE sales_data").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sales_data").WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err = WriteTable(context.Background(), db, store.DialectSQLite, "sales_data", NewGenerator(1).Generate(1), 10, false)
	if err == nil {
		t.Fatalf("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestInsertBatchSQLiteStoresDatesAsText(t *testing.T) {
	row := Sale{ID: 9, SaleDate: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)}
	query, args := insertBatch(store.DialectSQLite, "sales_data", []Sale{row})
	if want := "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"; !strings.HasSuffix(query, want) {
		t.Fatalf("query = %q", query)
	}
	if args[5] != "2024-02-29" {
		t.Fatalf("sale_date arg = %#v", args[5])
	}
}

func TestParquetRoundTrip(t *testing.T) {
	rows := NewGenerator(11).Generate(25)
	var buf bytes.Buffer
	if err := WriteParquet(&buf, rows); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}
	decoded, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet() error = %v", err)
	}
	if diff := cmp.Diff(rows, decoded); diff != "" {
		t.Fatalf("decoded rows differ (-want +got):\n%s", diff)
	}
}

func rowArgs(rows []Sale) []driver.Value {
	_, args := insertBatch(store.DialectPostgres, "sales_data", rows)
	values := make([]driver.Value, 0, len(args))
	for _, arg := range args {
		value, err := driver.DefaultParameterConverter.ConvertValue(arg)
		if err != nil {
			panic(err)
		}
		values = append(values, value)
	}
	return values
}
