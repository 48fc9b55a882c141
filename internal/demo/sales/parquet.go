package sales

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

type parquetSale struct {
	ID           int64   `parquet:"id"`
	Organization string  `parquet:"org_name"`
	Product      string  `parquet:"product_name"`
	SalesAmount  float64 `parquet:"sales_amount"`
	Quantity     int32   `parquet:"quantity"`
	SaleDate     int32   `parquet:"sale_date,date"`
	Year         int32   `parquet:"year"`
	Quarter      string  `parquet:"quarter"`
	Month        string  `parquet:"month"`
	Region       string  `parquet:"region"`
}

const secondsPerDay = 24 * 60 * 60

func toParquet(s Sale) parquetSale {
	return parquetSale{
		ID:           s.ID,
		Organization: s.Organization,
		Product:      s.Product,
		SalesAmount:  s.SalesAmount,
		Quantity:     int32(s.Quantity),
		SaleDate:     int32(s.SaleDate.Unix() / secondsPerDay),
		Year:         int32(s.Year),
		Quarter:      s.Quarter,
		Month:        s.Month,
		Region:       s.Region,
	}
}

func fromParquet(p parquetSale) Sale {
	return Sale{
		ID:           p.ID,
		Organization: p.Organization,
		Product:      p.Product,
		SalesAmount:  p.SalesAmount,
		Quantity:     int(p.Quantity),
		SaleDate:     time.Unix(int64(p.SaleDate)*secondsPerDay, 0).UTC(),
		Year:         int(p.Year),
		Quarter:      p.Quarter,
		Month:        p.Month,
		Region:       p.Region,
	}
}

// WriteParquet encodes rows as a single parquet file.
func WriteParquet(w io.Writer, rows []Sale) error {
	writer := parquet.NewGenericWriter[parquetSale](w)
	batch := make([]parquetSale, 0, len(rows))
	for _, row := range rows {
		batch = append(batch, toParquet(row))
	}
	if _, err := writer.Write(batch); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet decodes a file written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]Sale, error) {
	decoded, err := parquet.Read[parquetSale](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	out := make([]Sale, 0, len(decoded))
	for _, row := range decoded {
		out = append(out, fromParquet(row))
	}
	return out, nil
}
