// Package salesqactl is the operator client for the salesqa API.
package salesqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/salesqa/salesqa/internal/pipeline"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Provider   string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type askBody struct {
	Question      string `json:"question"`
	ModelProvider string `json:"model_provider,omitempty"`
	ModelName     string `json:"model_name,omitempty"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("salesqactl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "salesqa API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	provider := fs.String("provider", firstNonEmpty(defaults.Provider, "openai"), "model provider (openai or gemini)")
	model := fs.String("model", defaults.Model, "model id overriding the provider default")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")
	rawJSON := fs.Bool("json", false, "print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	var (
		method string
		path   string
		body   any
	)
	switch command {
	case "health":
		method, path = http.MethodGet, "/health"
	case "ready":
		method, path = http.MethodGet, "/ready"
	case "schema":
		method, path = http.MethodGet, "/api/v1/schema"
	case "tables":
		method, path = http.MethodGet, "/api/v1/tables"
	case "query", "qna":
		if question == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires a question\n\n", command)
			writeUsage(stderr)
			return 2
		}
		method, path = http.MethodPost, "/api/v1/"+command
		body = askBody{Question: question, ModelProvider: strings.TrimSpace(*provider), ModelName: strings.TrimSpace(*model)}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if !*rawJSON {
		switch command {
		case "query":
			return printQuery(stdout, stderr, responseBody)
		case "qna":
			return printQnA(stdout, stderr, responseBody)
		case "schema":
			return printSchema(stdout, stderr, responseBody)
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// printQuery exits 1 when the pipeline recorded an error.
func printQuery(stdout, stderr io.Writer, raw []byte) int {
	var resp pipeline.QueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if resp.SQLQuery != "" {
		_, _ = fmt.Fprintf(stdout, "SQL (%s %s):\n%s\n\n", resp.Provider, resp.Model, resp.SQLQuery)
	}
	if resp.QueryResult != "" {
		_, _ = fmt.Fprintf(stdout, "Result:\n%s\n", resp.QueryResult)
	}
	_, _ = fmt.Fprintf(stdout, "Answer:\n%s\n", resp.Answer)
	if resp.Error != "" {
		_, _ = fmt.Fprintf(stderr, "error: %s\n", resp.Error)
		return 1
	}
	return 0
}

func printQnA(stdout, stderr io.Writer, raw []byte) int {
	var resp pipeline.QnAResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if resp.Error != "" {
		_, _ = fmt.Fprintf(stdout, "Summary:\n%s\n", resp.Summary)
		_, _ = fmt.Fprintf(stderr, "error: %s\n", resp.Error)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Business context:\n%s\n\n", resp.BusinessExplanation)
	_, _ = fmt.Fprintf(stdout, "Entities:\n%s\n\n", resp.EntityExplanation)
	_, _ = fmt.Fprintf(stdout, "Table layout:\n%s\n\n", resp.TableLayout)
	_, _ = fmt.Fprintf(stdout, "SQL:\n%s\n\n", resp.SQLQuery)
	_, _ = fmt.Fprintf(stdout, "Data (%d rows):\n", len(resp.Data))
	writeRows(stdout, resp.Data)
	_, _ = fmt.Fprintf(stdout, "\nSummary:\n%s\n", resp.Summary)
	return 0
}

func printSchema(stdout, stderr io.Writer, raw []byte) int {
	var resp struct {
		Dialect string   `json:"dialect"`
		Tables  []string `json:"tables"`
		Schema  string   `json:"schema"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s tables: %s\n%s\n", resp.Dialect, strings.Join(resp.Tables, ", "), resp.Schema)
	return 0
}

// writeRows renders row maps as a table with sorted column headers.
func writeRows(w io.Writer, rows []map[string]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(no rows)")
		return
	}
	seen := map[string]bool{}
	columns := make([]string, 0)
	for _, row := range rows {
		for column := range row {
			if !seen[column] {
				seen[column] = true
				columns = append(columns, column)
			}
		}
	}
	sort.Strings(columns)

	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			value, ok := row[column]
			switch {
			case !ok, value == nil:
				cells[i] = "NULL"
			default:
				cells[i] = fmt.Sprint(value)
			}
		}
		table.Append(cells)
	}
	table.Render()
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: salesqactl [flags] <command> [question]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health             GET /health")
	_, _ = fmt.Fprintln(w, "  ready              GET /ready")
	_, _ = fmt.Fprintln(w, "  schema             GET /api/v1/schema")
	_, _ = fmt.Fprintln(w, "  tables             GET /api/v1/tables")
	_, _ = fmt.Fprintln(w, "  query <question>   POST /api/v1/query")
	_, _ = fmt.Fprintln(w, "  qna <question>     POST /api/v1/qna")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
