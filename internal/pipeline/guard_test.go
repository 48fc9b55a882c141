package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckSQL(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		readOnly bool
		wantErr  error
	}{
		{name: "select", sql: "SELECT region FROM sales_data", readOnly: true},
		{name: "trailing semicolons", sql: "select 1;;  \n", readOnly: true},
		{name: "cte", sql: "WITH t AS (SELECT 1 AS x) SELECT x FROM t", readOnly: true},
		{name: "keyword in literal", sql: "SELECT * FROM sales_data WHERE org_name = 'Drop; Delete Inc'", readOnly: true},
		{name: "keyword in comment", sql: "-- update later\nSELECT 1 /* delete; */", readOnly: true},
		{name: "quoted identifier", sql: `SELECT "update" FROM sales_data`, readOnly: true},
		{name: "underscored column", sql: "SELECT last_update FROM sales_data", readOnly: true},
		{name: "empty", sql: "  ;  ", readOnly: true, wantErr: errEmptyStatement},
		{name: "comment only", sql: "-- nothing", readOnly: false, wantErr: errEmptyStatement},
		{name: "two statements", sql: "SELECT 1; SELECT 2", readOnly: false, wantErr: errMultipleStatements},
		{name: "piggybacked delete", sql: "SELECT 1; DELETE FROM sales_data", readOnly: true, wantErr: errMultipleStatements},
		{name: "insert", sql: "INSERT INTO sales_data VALUES (1)", readOnly: true, wantErr: errNotReadOnly},
		{name: "cte delete", sql: "WITH gone AS (DELETE FROM sales_data RETURNING *) SELECT * FROM gone", readOnly: true, wantErr: errNotReadOnly},
		{name: "pragma", sql: "PRAGMA table_info(sales_data)", readOnly: true, wantErr: errNotReadOnly},
		{name: "write allowed", sql: "UPDATE sales_data SET region = 'North'", readOnly: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSQL(tc.sql, tc.readOnly)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("checkSQL(%q) error = %v", tc.sql, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("checkSQL(%q) error = %v, want %v", tc.sql, err, tc.wantErr)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```sql\nSELECT 1\n```":       "SELECT 1",
		"```\nSELECT 1\n```":          "SELECT 1",
		"  SELECT 1  ":                "SELECT 1",
		"Here:\n```sql\nSELECT 1\n```": "Here:\n\nSELECT 1",
	}
	for raw, want := range tests {
		if got := stripFences(raw); got != want {
			t.Fatalf("stripFences(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestLimitTableRows(t *testing.T) {
	table := "+---+\n| n |\n+---+\n| 1 |\n| 2 |\n| 3 |\n+---+\n"
	got := limitTableRows(table, 2)
	want := "+---+\n| n |\n+---+\n| 1 |\n| 2 |\n+---+\n... and 1 more rows"
	if got != want {
		t.Fatalf("limitTableRows() = %q, want %q", got, want)
	}
	if got := limitTableRows(table, 3); got != table {
		t.Fatalf("limitTableRows() changed a table within the limit: %q", got)
	}
}

func TestFormatRows(t *testing.T) {
	if got := formatRows(nil, 5); got != "No results" {
		t.Fatalf("formatRows(nil) = %q", got)
	}
	rows := []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}}
	got := formatRows(rows, 2)
	if got != "{\"n\":1}\n{\"n\":2}\n... and 1 more rows" {
		t.Fatalf("formatRows() = %q", got)
	}
}

func TestLoadPromptsOverridesSomeTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "query_plan: |\n  Tables {{join .Tables \"|\"}} for {{.Question}}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	prompts, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts() error = %v", err)
	}
	got, err := render(prompts.QueryPlan, promptData{Tables: []string{"a", "b"}, Question: "why?"})
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if strings.TrimSpace(got) != "Tables a|b for why?" {
		t.Fatalf("rendered = %q", got)
	}
	answer, err := render(prompts.QueryAnswer, promptData{Question: "why?", SQL: "SELECT 1", Result: "1"})
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(answer, "SQL Query Used: SELECT 1") {
		t.Fatalf("default answer prompt not kept: %q", answer)
	}
}

func TestLoadPromptsRejectsBadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("qna_summary: \"{{.Question\"\n"), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}
	if _, err := LoadPrompts(path); err == nil {
		t.Fatal("expected parse error")
	}
}
