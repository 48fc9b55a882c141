package store

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

func renderCreateTable(table string, cols []column) string {
	lines := make([]string, 0, len(cols)+1)
	keys := make([]string, 0)
	for _, col := range cols {
		line := "\t" + col.Name + " " + col.Type
		if col.NotNull && !col.PrimaryKey {
			line += " NOT NULL"
		}
		lines = append(lines, line)
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}
	if len(keys) > 0 {
		lines = append(lines, "\tPRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return "CREATE TABLE " + table + " (\n" + strings.Join(lines, ", \n") + "\n)"
}

func renderTable(columns []string, rows [][]any) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		table.Append(cells)
	}
	table.Render()
	return buf.String()
}

// normalizeValues turns driver values into JSON friendly ones.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case *big.Int:
		if typed != nil && typed.IsInt64() {
			return typed.Int64()
		}
		return typed
	case float64:
		return finiteOrText(typed)
	case float32:
		return finiteOrText(float64(typed))
	case interface{ Float64() float64 }:
		// DuckDB DECIMAL
		return finiteOrText(typed.Float64())
	default:
		return typed
	}
}

// finiteOrText spells out NaN and infinities, which JSON cannot carry.
func finiteOrText(value float64) any {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "Infinity"
	case math.IsInf(value, -1):
		return "-Infinity"
	default:
		return value
	}
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
