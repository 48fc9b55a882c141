package pipeline

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultQueryPlan = `You are an expert SQL data analyst.
Given the following database schema for a SALES database, write a {{.Dialect}} SQL query to answer the user's question.

Usable tables: {{join .Tables ", "}}.
Key columns: org_name, product_name, sales_amount, quantity, sale_date, year, quarter, month, region.

- Always use 'sales_amount' for revenue calculations.
- Only reference the usable tables.
- Return ONLY the SQL query. No markdown, no explanation.

Schema:
{{.Schema}}

Question: {{.Question}}

SQL Query:`

const defaultQueryAnswer = `You are a data analyst helper.
Based on the original question and the SQL result, provide a clear, concise answer.

Question: {{.Question}}
SQL Query Used: {{.SQL}}
SQL Result: {{.Result}}

Answer:`

const defaultQnAPlan = `You are an expert SQL data analyst.
Given the database schema, answer the user's question by generating a valid {{.Dialect}} SQL query and explaining your reasoning.
Only reference these tables: {{join .Tables ", "}}.

Schema:
{{.Schema}}

User Question: {{.Question}}
`

const defaultQnASummary = `You are a data analyst.
Summarize the following data results to answer the user's original question.

Question: {{.Question}}
Business Context: {{.BusinessExplanation}}
Data Results: {{.Result}}

Provide a concise executive summary.
`

// Prompts holds the templates rendered for each model call.
type Prompts struct {
	QueryPlan   *template.Template
	QueryAnswer *template.Template
	QnAPlan     *template.Template
	QnASummary  *template.Template
}

// promptData is the value every template is executed against.
type promptData struct {
	Dialect             string
	Tables              []string
	Schema              string
	Question            string
	SQL                 string
	Result              string
	BusinessExplanation string
}

type promptFile struct {
	QueryPlan   string `yaml:"query_plan"`
	QueryAnswer string `yaml:"query_answer"`
	QnAPlan     string `yaml:"qna_plan"`
	QnASummary  string `yaml:"qna_summary"`
}

var templateFuncs = template.FuncMap{"join": strings.Join}

func DefaultPrompts() Prompts {
	prompts, err := parsePrompts(promptFile{})
	if err != nil {
		panic(err)
	}
	return prompts
}

// LoadPrompts reads a YAML file overriding some or all default templates.
// An empty path yields the defaults.
func LoadPrompts(path string) (Prompts, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %q: %w", path, err)
	}
	return parsePrompts(file)
}

func parsePrompts(file promptFile) (Prompts, error) {
	var (
		prompts Prompts
		err     error
	)
	parse := []struct {
		name     string
		text     string
		fallback string
		target   **template.Template
	}{
		{name: "query_plan", text: file.QueryPlan, fallback: defaultQueryPlan, target: &prompts.QueryPlan},
		{name: "query_answer", text: file.QueryAnswer, fallback: defaultQueryAnswer, target: &prompts.QueryAnswer},
		{name: "qna_plan", text: file.QnAPlan, fallback: defaultQnAPlan, target: &prompts.QnAPlan},
		{name: "qna_summary", text: file.QnASummary, fallback: defaultQnASummary, target: &prompts.QnASummary},
	}
	for _, p := range parse {
		text := p.text
		if strings.TrimSpace(text) == "" {
			text = p.fallback
		}
		*p.target, err = template.New(p.name).Funcs(templateFuncs).Parse(text)
		if err != nil {
			return Prompts{}, fmt.Errorf("parse %s prompt: %w", p.name, err)
		}
	}
	return prompts, nil
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
