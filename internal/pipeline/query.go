package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/salesqa/salesqa/internal/llm"
	"github.com/salesqa/salesqa/internal/observability"
)

// QueryResponse is the outcome of the simple variant. Answer is always set;
// when a stage failed it acknowledges the error.
type QueryResponse struct {
	Question    string `json:"question"`
	SQLQuery    string `json:"sql_query,omitempty"`
	QueryResult string `json:"query_result,omitempty"`
	Answer      string `json:"answer"`
	Error       string `json:"error,omitempty"`
	Provider    string `json:"provider"`
	Model       string `json:"model,omitempty"`
}

type queryPlan struct {
	model llm.TextModel
	sql   string
}

// Query runs the simple variant, whose result is a rendered text table.
func (p *Pipeline) Query(ctx context.Context, req Request) QueryResponse {
	resp := QueryResponse{
		Question: req.Question,
		Provider: providerLabel(req.Provider),
		Model:    strings.TrimSpace(req.Model),
	}

	plan, stageErr := p.planQuery(ctx, req)
	var result string
	if stageErr == nil {
		resp.SQLQuery = plan.sql
		resp.Provider = plan.model.Provider().String()
		resp.Model = plan.model.Model()
		result, stageErr = p.executeQuery(ctx, plan.sql)
	}
	if stageErr == nil {
		resp.QueryResult = result
	}

	resp.Answer, stageErr = p.answerQuery(ctx, req, plan.sql, result, stageErr)
	if stageErr != nil {
		resp.Error = stageErr.Message
	}
	observability.ObservePipelineRun(string(VariantQuery), stageErr != nil)
	return resp
}

func (p *Pipeline) planQuery(ctx context.Context, req Request) (plan queryPlan, stageErr *StageError) {
	done := p.stageTimer(ctx, VariantQuery, StagePlan)
	defer func() { done(stageErr) }()

	model, stageErr := p.resolveModel(ctx, req, StagePlan, KindPlanning, "")
	if stageErr != nil {
		return queryPlan{}, stageErr
	}
	data, err := p.schemaPrompt(ctx, req)
	if err != nil {
		return queryPlan{}, &StageError{Stage: StagePlan, Kind: KindPlanning, Message: err.Error(), Err: err}
	}
	prompt, err := render(p.prompts.QueryPlan, data)
	if err != nil {
		return queryPlan{}, &StageError{Stage: StagePlan, Kind: KindPlanning, Message: err.Error(), Err: err}
	}
	raw, err := model.Complete(ctx, prompt)
	if err != nil {
		return queryPlan{}, &StageError{Stage: StagePlan, Kind: KindPlanning, Message: err.Error(), Err: err}
	}

	sqlText := stripFences(raw)
	p.logger.InfoContext(ctx, "generated sql query",
		slog.String("provider", model.Provider().String()),
		slog.String("model", model.Model()),
		slog.String("sql", sqlText),
	)
	return queryPlan{model: model, sql: sqlText}, nil
}

func (p *Pipeline) executeQuery(ctx context.Context, sqlText string) (result string, stageErr *StageError) {
	done := p.stageTimer(ctx, VariantQuery, StageExecute)
	defer func() { done(stageErr) }()

	if guardErr := p.guardedSQL(sqlText); guardErr != nil {
		return "", guardErr
	}
	result, err := p.store.Run(ctx, sqlText)
	if err != nil {
		return "", executionError(err)
	}
	return result, nil
}

// answerQuery always yields a non-empty answer. A prior stage error is
// acknowledged without calling a model and passed through unchanged.
func (p *Pipeline) answerQuery(ctx context.Context, req Request, sqlText, result string, prior *StageError) (answer string, stageErr *StageError) {
	if prior != nil {
		return "I encountered an error: " + prior.Message, prior
	}

	done := p.stageTimer(ctx, VariantQuery, StageSummarize)
	defer func() { done(stageErr) }()

	model, stageErr := p.resolveModel(ctx, req, StageSummarize, KindSummarization, "")
	if stageErr != nil {
		return "Configuration Error", stageErr
	}

	if strings.TrimSpace(result) == "" {
		result = "No results found."
	} else {
		result = limitTableRows(result, p.rowLimit)
	}
	prompt, err := render(p.prompts.QueryAnswer, promptData{
		Dialect:  string(p.store.Dialect()),
		Tables:   p.store.UsableTables(),
		Question: req.Question,
		SQL:      sqlText,
		Result:   result,
	})
	if err != nil {
		return "Failed to generate answer.", &StageError{Stage: StageSummarize, Kind: KindSummarization, Message: err.Error(), Err: err}
	}
	answer, err = model.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("model returned an empty answer")
	}
	if err != nil {
		return "Failed to generate answer.", &StageError{Stage: StageSummarize, Kind: KindSummarization, Message: err.Error(), Err: err}
	}
	return strings.TrimSpace(answer), nil
}

// limitTableRows keeps the first limit data rows of a bordered text table
// and notes how many were dropped.
func limitTableRows(table string, limit int) string {
	const header, footer = 3, 1
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	rows := len(lines) - header - footer
	if limit <= 0 || rows <= limit {
		return table
	}
	kept := append(lines[:header+limit:header+limit], lines[len(lines)-1])
	return strings.Join(kept, "\n") + fmt.Sprintf("\n... and %d more rows", rows-limit)
}
