package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/salesqa/salesqa/internal/llm"
	"github.com/salesqa/salesqa/internal/observability"
	"github.com/salesqa/salesqa/internal/store"
)

// QnAPlan is the structured output requested from the model.
type QnAPlan struct {
	BusinessExplanation string `json:"business_explanation" jsonschema:"Why this question is important from a business perspective."`
	EntityExplanation   string `json:"entity_explanation" jsonschema:"Which tables and columns were chosen and why."`
	SQLQuery            string `json:"sql_query" jsonschema:"The valid SQL query to answer the question."`
	TableLayout         string `json:"table_layout" jsonschema:"A summary of the table schema used."`
}

var qnaPlanSchema = llm.MustSchemaFor[QnAPlan]("qna_plan")

// QnAResponse is the outcome of the rich variant. Summary is left empty
// when planning or execution failed.
type QnAResponse struct {
	Question            string           `json:"question"`
	BusinessExplanation string           `json:"business_explanation"`
	EntityExplanation   string           `json:"entity_explanation"`
	SQLQuery            string           `json:"sql_query"`
	TableLayout         string           `json:"table_layout"`
	Data                []map[string]any `json:"data"`
	Summary             string           `json:"summary"`
	Error               string           `json:"error,omitempty"`
}

// QnA runs the rich variant: a structured plan, row-mapped data and an
// executive summary.
func (p *Pipeline) QnA(ctx context.Context, req Request) QnAResponse {
	resp := QnAResponse{Question: req.Question, Data: []map[string]any{}}

	plan, stageErr := p.planQnA(ctx, req)
	if stageErr == nil {
		resp.BusinessExplanation = plan.BusinessExplanation
		resp.EntityExplanation = plan.EntityExplanation
		resp.SQLQuery = plan.SQLQuery
		resp.TableLayout = plan.TableLayout

		var result store.Result
		result, stageErr = p.executeQnA(ctx, plan.SQLQuery)
		if stageErr == nil && result.Rows != nil {
			resp.Data = result.Rows
		}
	}

	resp.Summary, stageErr = p.summarizeQnA(ctx, req, plan, resp.Data, stageErr)
	if stageErr != nil {
		resp.Error = stageErr.Message
	}
	observability.ObservePipelineRun(string(VariantQnA), stageErr != nil)
	return resp
}

func (p *Pipeline) planQnA(ctx context.Context, req Request) (plan QnAPlan, stageErr *StageError) {
	done := p.stageTimer(ctx, VariantQnA, StagePlan)
	defer func() { done(stageErr) }()

	model, stageErr := p.resolveModel(ctx, req, StagePlan, KindPlanning, "LLM Setup Error: ")
	if stageErr != nil {
		return QnAPlan{}, stageErr
	}
	planningFailed := func(err error) *StageError {
		return &StageError{Stage: StagePlan, Kind: KindPlanning, Message: "Planning Failed: " + err.Error(), Err: err}
	}

	data, err := p.schemaPrompt(ctx, req)
	if err != nil {
		return QnAPlan{}, planningFailed(err)
	}
	prompt, err := render(p.prompts.QnAPlan, data)
	if err != nil {
		return QnAPlan{}, planningFailed(err)
	}
	if err := model.CompleteStructured(ctx, prompt, qnaPlanSchema, &plan); err != nil {
		return QnAPlan{}, planningFailed(err)
	}

	plan.SQLQuery = stripFences(plan.SQLQuery)
	p.logger.InfoContext(ctx, "generated qna plan",
		slog.String("provider", model.Provider().String()),
		slog.String("model", model.Model()),
		slog.String("sql", plan.SQLQuery),
	)
	return plan, nil
}

func (p *Pipeline) executeQnA(ctx context.Context, sqlText string) (result store.Result, stageErr *StageError) {
	done := p.stageTimer(ctx, VariantQnA, StageExecute)
	defer func() { done(stageErr) }()

	if guardErr := p.guardedSQL(sqlText); guardErr != nil {
		return store.Result{}, guardErr
	}
	result, err := p.store.Query(ctx, sqlText)
	if err != nil {
		return store.Result{}, executionError(err)
	}
	return result, nil
}

// summarizeQnA passes a prior error through without a summary. Failures of
// its own leave a fixed fallback summary next to the error.
func (p *Pipeline) summarizeQnA(ctx context.Context, req Request, plan QnAPlan, rows []map[string]any, prior *StageError) (summary string, stageErr *StageError) {
	if prior != nil {
		return "", prior
	}

	done := p.stageTimer(ctx, VariantQnA, StageSummarize)
	defer func() { done(stageErr) }()

	const fallback = "Failed to generate summary."
	model, stageErr := p.resolveModel(ctx, req, StageSummarize, KindSummarization, "LLM Setup Error: ")
	if stageErr != nil {
		return fallback, stageErr
	}
	summarizationFailed := func(err error) *StageError {
		return &StageError{Stage: StageSummarize, Kind: KindSummarization, Message: "Summarization Failed: " + err.Error(), Err: err}
	}

	prompt, err := render(p.prompts.QnASummary, promptData{
		Dialect:             string(p.store.Dialect()),
		Tables:              p.store.UsableTables(),
		Question:            req.Question,
		SQL:                 plan.SQLQuery,
		Result:              formatRows(rows, p.rowLimit),
		BusinessExplanation: plan.BusinessExplanation,
	})
	if err != nil {
		return fallback, summarizationFailed(err)
	}
	summary, err = model.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("model returned an empty summary")
	}
	if err != nil {
		return fallback, summarizationFailed(err)
	}
	return strings.TrimSpace(summary), nil
}

// formatRows renders rows as JSON lines for a prompt, keeping at most limit.
func formatRows(rows []map[string]any, limit int) string {
	if len(rows) == 0 {
		return "No results"
	}
	var b strings.Builder
	for i, row := range rows {
		if limit > 0 && i == limit {
			fmt.Fprintf(&b, "... and %d more rows\n", len(rows)-limit)
			break
		}
		encoded, err := json.Marshal(row)
		if err != nil {
			fmt.Fprintf(&b, "%v\n", row)
			continue
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
