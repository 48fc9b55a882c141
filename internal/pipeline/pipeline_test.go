package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/salesqa/salesqa/internal/llm"
	"github.com/salesqa/salesqa/internal/store"
)

const totalsByRegion = "SELECT region, SUM(sales_amount) FROM sales_data GROUP BY region"

func TestQueryAnswersFromResult(t *testing.T) {
	model := &scriptedModel{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SQL Query:") {
			return "```sql\n" + totalsByRegion + "\n```", nil
		}
		return "North leads with 300, South follows with 50.", nil
	}}
	st := &fakeStore{run: func(string) (string, error) {
		return "+--------+-------+\n| region | total |\n+--------+-------+\n| North  | 300   |\n| South  | 50    |\n+--------+-------+\n", nil
	}}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "Show total sales by region", Provider: "openai"})

	if resp.Error != "" {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.SQLQuery != totalsByRegion {
		t.Fatalf("SQLQuery = %q", resp.SQLQuery)
	}
	if !strings.Contains(resp.QueryResult, "North") || !strings.Contains(resp.QueryResult, "South") {
		t.Fatalf("QueryResult = %q", resp.QueryResult)
	}
	if !strings.Contains(resp.Answer, "North") {
		t.Fatalf("Answer = %q", resp.Answer)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-3.5-turbo" {
		t.Fatalf("provider/model = %q/%q", resp.Provider, resp.Model)
	}
	if got := st.executed(); len(got) != 1 || got[0] != totalsByRegion {
		t.Fatalf("executed = %v", got)
	}
	if !strings.Contains(model.prompt(0), "Show total sales by region") || !strings.Contains(model.prompt(0), "CREATE TABLE sales_data") {
		t.Fatalf("plan prompt = %q", model.prompt(0))
	}
	if !strings.Contains(model.prompt(1), "SQL Query Used: "+totalsByRegion) {
		t.Fatalf("answer prompt = %q", model.prompt(1))
	}
}

func TestQueryExecutionFailureIsDistinct(t *testing.T) {
	model := &scriptedModel{complete: func(string) (string, error) {
		return "SELECT region, missing_col FROM sales_data", nil
	}}
	st := &fakeStore{run: func(sqlText string) (string, error) {
		return "", &store.ExecutionError{Dialect: store.DialectSQLite, SQL: sqlText, Err: errors.New("no such column: missing_col")}
	}}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q", Provider: "openai"})

	if resp.Error != "SQL Execution Failed: no such column: missing_col" {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.QueryResult != "" {
		t.Fatalf("QueryResult = %q", resp.QueryResult)
	}
	if resp.Answer != "I encountered an error: "+resp.Error {
		t.Fatalf("Answer = %q", resp.Answer)
	}
	if model.calls() != 1 {
		t.Fatalf("model calls = %d, want only the plan call", model.calls())
	}
}

func TestQueryUnknownProviderFallsBack(t *testing.T) {
	model := &scriptedModel{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SQL Query:") {
			return totalsByRegion, nil
		}
		return "answer", nil
	}}
	st := &fakeStore{run: func(string) (string, error) { return "", nil }}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q", Provider: "anthropic"})

	if resp.Error != "" || resp.Answer != "answer" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Provider != "openai" {
		t.Fatalf("Provider = %q", resp.Provider)
	}
	if !strings.Contains(model.prompt(1), "SQL Result: No results found.") {
		t.Fatalf("answer prompt = %q", model.prompt(1))
	}
}

func TestQueryMissingCredential(t *testing.T) {
	model := &scriptedModel{}
	st := &fakeStore{}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q", Provider: "Gemini"})

	if resp.Error != "GOOGLE_API_KEY is not set in configuration." {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.SQLQuery != "" || resp.QueryResult != "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Answer != "I encountered an error: GOOGLE_API_KEY is not set in configuration." {
		t.Fatalf("Answer = %q", resp.Answer)
	}
	if resp.Provider != "gemini" {
		t.Fatalf("Provider = %q", resp.Provider)
	}
	if model.calls() != 0 || len(st.executed()) != 0 {
		t.Fatalf("model calls = %d, executed = %v", model.calls(), st.executed())
	}
}

func TestQueryUnknownProviderReportsFallbackOnFailure(t *testing.T) {
	model := &scriptedModel{}
	p := newTestPipeline(t, &fakeStore{}, newTestGateway(model, llm.Config{}))

	resp := p.Query(context.Background(), Request{Question: "q", Provider: "Anthropic"})

	if resp.Error != "OPENAI_API_KEY is not set in configuration." {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.Provider != "openai" {
		t.Fatalf("Provider = %q, want the fallback backend", resp.Provider)
	}
	if model.calls() != 0 {
		t.Fatalf("model calls = %d", model.calls())
	}
}

func TestQueryEmptySQL(t *testing.T) {
	model := &scriptedModel{complete: func(string) (string, error) { return "```sql\n```", nil }}
	st := &fakeStore{}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q"})

	if resp.Error != "No SQL query generated." {
		t.Fatalf("Error = %q", resp.Error)
	}
	if len(st.executed()) != 0 {
		t.Fatalf("executed = %v", st.executed())
	}
}

func TestQueryRejectsMutatingSQL(t *testing.T) {
	model := &scriptedModel{complete: func(string) (string, error) { return "DELETE FROM sales_data", nil }}
	st := &fakeStore{}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "remove everything"})

	if !strings.HasPrefix(resp.Error, "SQL Execution Failed: only read-only") {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.SQLQuery != "DELETE FROM sales_data" {
		t.Fatalf("SQLQuery = %q", resp.SQLQuery)
	}
	if len(st.executed()) != 0 {
		t.Fatalf("executed = %v", st.executed())
	}
}

func TestQueryPlanFailure(t *testing.T) {
	model := &scriptedModel{complete: func(string) (string, error) { return "", errors.New("rate limited") }}
	st := &fakeStore{}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q"})

	if resp.Error != "rate limited" || resp.Answer != "I encountered an error: rate limited" {
		t.Fatalf("response = %+v", resp)
	}
	if len(st.executed()) != 0 {
		t.Fatalf("executed = %v", st.executed())
	}
}

func TestQuerySummarizeFailureKeepsAnswer(t *testing.T) {
	model := &scriptedModel{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SQL Query:") {
			return totalsByRegion, nil
		}
		return "", errors.New("upstream timeout")
	}}
	st := &fakeStore{run: func(string) (string, error) { return "rows", nil }}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.Query(context.Background(), Request{Question: "q"})

	if resp.Answer != "Failed to generate answer." || resp.Error != "upstream timeout" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.QueryResult != "rows" {
		t.Fatalf("QueryResult = %q", resp.QueryResult)
	}
}

func TestQueryIsDeterministicForFixedModel(t *testing.T) {
	model := &scriptedModel{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SQL Query:") {
			return totalsByRegion + ";", nil
		}
		return "answer", nil
	}}
	st := &fakeStore{run: func(string) (string, error) { return "rows", nil }}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	first := p.Query(context.Background(), Request{Question: "Show total sales by region"})
	second := p.Query(context.Background(), Request{Question: "Show total sales by region"})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("responses differ (-first +second):\n%s", diff)
	}
	if first.SQLQuery != totalsByRegion+";" {
		t.Fatalf("SQLQuery = %q", first.SQLQuery)
	}
}

func TestQueryConcurrentInvocationsDoNotCrossTalk(t *testing.T) {
	model := &scriptedModel{complete: func(prompt string) (string, error) {
		question := promptLine(prompt, "Question: ")
		if strings.Contains(prompt, "SQL Query:") {
			return "SELECT '" + question + "' AS q", nil
		}
		return "answer for " + question, nil
	}}
	st := &fakeStore{run: func(sqlText string) (string, error) { return sqlText, nil }}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test", CacheTTL: time.Minute}))

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			question := fmt.Sprintf("question %d", i)
			resp := p.Query(context.Background(), Request{Question: question})
			if resp.SQLQuery != "SELECT '"+question+"' AS q" || resp.Answer != "answer for "+question {
				errs <- fmt.Sprintf("%s: %+v", question, resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestQnAReturnsPlanDataAndSummary(t *testing.T) {
	model := &scriptedModel{
		structured: func(string) (string, error) {
			return `{"business_explanation":"Revenue mix by region","entity_explanation":"sales_data.region and sales_amount","sql_query":"` + totalsByRegion + `","table_layout":"sales_data(region, sales_amount)"}`, nil
		},
		complete: func(string) (string, error) { return "North dominates.", nil },
	}
	rows := []map[string]any{{"region": "North", "total": 300.0}, {"region": "South", "total": 50.0}}
	st := &fakeStore{query: func(string) (store.Result, error) {
		return store.Result{Columns: []string{"region", "total"}, Rows: rows}, nil
	}}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{GoogleAPIKey: "g-test"}))

	resp := p.QnA(context.Background(), Request{Question: "Show total sales by region", Provider: "gemini"})

	want := QnAResponse{
		Question:            "Show total sales by region",
		BusinessExplanation: "Revenue mix by region",
		EntityExplanation:   "sales_data.region and sales_amount",
		SQLQuery:            totalsByRegion,
		TableLayout:         "sales_data(region, sales_amount)",
		Data:                rows,
		Summary:             "North dominates.",
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("QnA() mismatch (-want +got):\n%s", diff)
	}
	summaryPrompt := model.prompt(1)
	if !strings.Contains(summaryPrompt, "Business Context: Revenue mix by region") || !strings.Contains(summaryPrompt, `{"region":"North","total":300}`) {
		t.Fatalf("summary prompt = %q", summaryPrompt)
	}
}

func TestQnAMissingCredential(t *testing.T) {
	model := &scriptedModel{}
	p := newTestPipeline(t, &fakeStore{}, newTestGateway(model, llm.Config{}))

	resp := p.QnA(context.Background(), Request{Question: "q", Provider: "openai"})

	if resp.Error != "LLM Setup Error: OPENAI_API_KEY is not set in configuration." {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.SQLQuery != "" || len(resp.Data) != 0 || resp.Summary != "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Data == nil {
		t.Fatal("Data must be an empty list, not nil")
	}
}

func TestQnAPlanningFailureOnInvalidStructuredOutput(t *testing.T) {
	model := &scriptedModel{structured: func(string) (string, error) {
		return `{"sql_query":"SELECT 1"}`, nil
	}}
	st := &fakeStore{}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.QnA(context.Background(), Request{Question: "q"})

	if !strings.HasPrefix(resp.Error, "Planning Failed: ") || !strings.Contains(resp.Error, "does not match schema") {
		t.Fatalf("Error = %q", resp.Error)
	}
	if len(st.executed()) != 0 {
		t.Fatalf("executed = %v", st.executed())
	}
}

func TestQnAExecutionFailure(t *testing.T) {
	model := &scriptedModel{structured: func(string) (string, error) {
		return `{"business_explanation":"b","entity_explanation":"e","sql_query":"SELECT nope FROM sales_data","table_layout":"t"}`, nil
	}}
	st := &fakeStore{query: func(string) (store.Result, error) {
		return store.Result{}, errors.New(`column "nope" does not exist`)
	}}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.QnA(context.Background(), Request{Question: "q"})

	if resp.Error != `SQL Execution Failed: column "nope" does not exist` {
		t.Fatalf("Error = %q", resp.Error)
	}
	if resp.Summary != "" || len(resp.Data) != 0 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.SQLQuery != "SELECT nope FROM sales_data" {
		t.Fatalf("SQLQuery = %q", resp.SQLQuery)
	}
	if model.calls() != 1 {
		t.Fatalf("model calls = %d", model.calls())
	}
}

func TestQnASummaryFallback(t *testing.T) {
	model := &scriptedModel{
		structured: func(string) (string, error) {
			return `{"business_explanation":"b","entity_explanation":"e","sql_query":"SELECT 1","table_layout":"t"}`, nil
		},
		complete: func(string) (string, error) { return "  ", nil },
	}
	st := &fakeStore{query: func(string) (store.Result, error) {
		return store.Result{Columns: []string{"1"}, Rows: []map[string]any{{"1": int64(1)}}}, nil
	}}
	p := newTestPipeline(t, st, newTestGateway(model, llm.Config{OpenAIAPIKey: "sk-test"}))

	resp := p.QnA(context.Background(), Request{Question: "q"})

	if resp.Summary != "Failed to generate summary." {
		t.Fatalf("Summary = %q", resp.Summary)
	}
	if !strings.HasPrefix(resp.Error, "Summarization Failed: ") {
		t.Fatalf("Error = %q", resp.Error)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("Data = %v", resp.Data)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(nil, newTestGateway(&scriptedModel{}, llm.Config{}), Options{}); err == nil {
		t.Fatal("expected error for missing store")
	}
	if _, err := New(&fakeStore{}, nil, Options{}); err == nil {
		t.Fatal("expected error for missing resolver")
	}
}

func newTestPipeline(t *testing.T, st Store, models ModelResolver) *Pipeline {
	t.Helper()
	p, err := New(st, models, Options{ReadOnly: true, PromptRowLimit: 50, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func newTestGateway(model *scriptedModel, cfg llm.Config) *llm.Gateway {
	factory := func(provider llm.Provider) llm.Factory {
		return func(_ context.Context, _ llm.Config, name string) (llm.TextModel, error) {
			return &boundModel{scriptedModel: model, provider: provider, model: name}, nil
		}
	}
	return llm.NewGateway(cfg, discardLogger(),
		llm.WithFactory(llm.ProviderOpenAI, factory(llm.ProviderOpenAI)),
		llm.WithFactory(llm.ProviderGemini, factory(llm.ProviderGemini)),
	)
}

// scriptedModel answers every call through the configured functions and
// records the prompts it saw.
type scriptedModel struct {
	complete   func(prompt string) (string, error)
	structured func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *scriptedModel) record(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
}

func (m *scriptedModel) prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.prompts) {
		return ""
	}
	return m.prompts[i]
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type boundModel struct {
	*scriptedModel
	provider llm.Provider
	model    string
}

func (m *boundModel) Provider() llm.Provider { return m.provider }
func (m *boundModel) Model() string          { return m.model }

func (m *boundModel) Complete(_ context.Context, prompt string) (string, error) {
	m.record(prompt)
	if m.complete == nil {
		return "", errors.New("unexpected completion")
	}
	return m.complete(prompt)
}

func (m *boundModel) CompleteStructured(_ context.Context, prompt string, schema *llm.Schema, out any) error {
	m.record(prompt)
	if m.structured == nil {
		return errors.New("unexpected structured completion")
	}
	raw, err := m.structured(prompt)
	if err != nil {
		return err
	}
	return schema.Decode(raw, out)
}

type fakeStore struct {
	run   func(sqlText string) (string, error)
	query func(sqlText string) (store.Result, error)

	mu  sync.Mutex
	log []string
}

func (s *fakeStore) Dialect() store.Dialect { return store.DialectSQLite }
func (s *fakeStore) UsableTables() []string { return []string{"sales_data"} }

func (s *fakeStore) SchemaSummary(context.Context) (string, error) {
	return "\nCREATE TABLE sales_data (\n\tregion TEXT, \n\tsales_amount REAL\n)", nil
}

func (s *fakeStore) Run(_ context.Context, sqlText string) (string, error) {
	s.record(sqlText)
	if s.run == nil {
		return "", errors.New("unexpected run")
	}
	return s.run(sqlText)
}

func (s *fakeStore) Query(_ context.Context, sqlText string) (store.Result, error) {
	s.record(sqlText)
	if s.query == nil {
		return store.Result{}, errors.New("unexpected query")
	}
	return s.query(sqlText)
}

func (s *fakeStore) record(sqlText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, sqlText)
}

func (s *fakeStore) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func promptLine(prompt, prefix string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
