package sales

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

type Config struct {
	// DatabaseURL uses the same forms as the API's database url. A duckdb
	// url ending in .parquet, or naming an s3:// object, produces a parquet
	// export instead of a database table.
	DatabaseURL string
	Table       string
	Rows        int
	BatchSize   int
	Seed        int64
	Replace     bool
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL: "sqlite:///./sales.db",
		Table:       "sales_data",
		Rows:        10000,
		BatchSize:   500,
		Seed:        time.Now().UTC().UnixNano(),
		Replace:     true,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("invalid table name: %q", c.Table)
	}
	if c.Rows <= 0 {
		return fmt.Errorf("rows must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	return nil
}
