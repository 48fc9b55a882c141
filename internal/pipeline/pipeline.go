// Package pipeline answers natural-language questions about the sales data
// by running three stages in order: plan a SQL query with a language model,
// execute it against the store, and summarize the result.
//
// Each stage returns its payload or a *StageError. The first error stops the
// primary work of every later stage; only the summarize stage turns it into a
// user-facing message. Pipelines hold no per-request state and may be used
// concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/llm"
	"github.com/salesqa/salesqa/internal/observability"
	"github.com/salesqa/salesqa/internal/store"
)

type Variant string

const (
	VariantQuery Variant = "query"
	VariantQnA   Variant = "qna"
)

type Stage string

const (
	StagePlan      Stage = "plan"
	StageExecute   Stage = "execute"
	StageSummarize Stage = "summarize"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindPlanning      Kind = "planning"
	KindNoQuery       Kind = "no_query"
	KindExecution     Kind = "execution"
	KindSummarization Kind = "summarization"
)

// StageError is the first failure of a run. Message is what callers see.
type StageError struct {
	Stage   Stage
	Kind    Kind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Store is the schema-restricted data source the stages read from.
type Store interface {
	Dialect() store.Dialect
	UsableTables() []string
	SchemaSummary(ctx context.Context) (string, error)
	Run(ctx context.Context, sqlText string) (string, error)
	Query(ctx context.Context, sqlText string) (store.Result, error)
}

// ModelResolver turns a provider name and optional model id into a model.
type ModelResolver interface {
	Resolve(ctx context.Context, name, model string) (llm.TextModel, error)
}

type Options struct {
	// ReadOnly rejects statements other than SELECT/WITH before execution.
	ReadOnly bool
	// PromptRowLimit caps the result rows embedded in a summarize prompt.
	PromptRowLimit int
	Prompts        *Prompts
	Logger         *slog.Logger
}

type Pipeline struct {
	store    Store
	models   ModelResolver
	prompts  Prompts
	readOnly bool
	rowLimit int
	logger   *slog.Logger
}

// Request is one question and its provider selection.
type Request struct {
	Question string
	Provider string
	Model    string
}

const defaultPromptRowLimit = 50

func New(st Store, models ModelResolver, opts Options) (*Pipeline, error) {
	if st == nil {
		return nil, errors.New("pipeline store is required")
	}
	if models == nil {
		return nil, errors.New("pipeline model resolver is required")
	}
	p := &Pipeline{
		store:    st,
		models:   models,
		readOnly: opts.ReadOnly,
		rowLimit: opts.PromptRowLimit,
		logger:   opts.Logger,
	}
	if opts.Prompts != nil {
		p.prompts = *opts.Prompts
	} else {
		p.prompts = DefaultPrompts()
	}
	if p.rowLimit <= 0 {
		p.rowLimit = defaultPromptRowLimit
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// stageTimer records duration and failure metrics for one stage.
func (p *Pipeline) stageTimer(ctx context.Context, variant Variant, stage Stage) func(*StageError) {
	started := time.Now()
	return func(stageErr *StageError) {
		elapsed := time.Since(started)
		observability.ObserveStage(string(variant), string(stage), elapsed)
		attrs := []any{
			slog.String("variant", string(variant)),
			slog.String("stage", string(stage)),
			slog.Duration("elapsed", elapsed),
		}
		if stageErr != nil {
			observability.IncrementStageError(string(variant), string(stage), string(stageErr.Kind))
			attrs = append(attrs, slog.String("kind", string(stageErr.Kind)), slog.Any("error", stageErr.Err))
			p.logger.WarnContext(ctx, "pipeline stage failed", attrs...)
			return
		}
		p.logger.DebugContext(ctx, "pipeline stage completed", attrs...)
	}
}

// resolveModel classifies resolution failures. A missing credential is a
// configuration error; anything else fails the given stage kind.
func (p *Pipeline) resolveModel(ctx context.Context, req Request, stage Stage, kind Kind, prefix string) (llm.TextModel, *StageError) {
	model, err := p.models.Resolve(ctx, req.Provider, req.Model)
	if err == nil {
		return model, nil
	}
	var cfgErr *llm.ConfigError
	if errors.As(err, &cfgErr) {
		kind = KindConfiguration
	}
	return nil, &StageError{Stage: stage, Kind: kind, Message: prefix + err.Error(), Err: err}
}

func (p *Pipeline) schemaPrompt(ctx context.Context, req Request) (promptData, error) {
	if strings.TrimSpace(req.Question) == "" {
		return promptData{}, errors.New("question is required")
	}
	schema, err := p.store.SchemaSummary(ctx)
	if err != nil {
		return promptData{}, fmt.Errorf("failed to load schema: %w", err)
	}
	return promptData{
		Dialect:  string(p.store.Dialect()),
		Tables:   p.store.UsableTables(),
		Schema:   schema,
		Question: req.Question,
	}, nil
}

// guardedSQL checks sqlText before it reaches the store.
func (p *Pipeline) guardedSQL(sqlText string) *StageError {
	if strings.TrimSpace(sqlText) == "" {
		return &StageError{Stage: StageExecute, Kind: KindNoQuery, Message: "No SQL query generated.", Err: errEmptyStatement}
	}
	if err := checkSQL(sqlText, p.readOnly); err != nil {
		return &StageError{Stage: StageExecute, Kind: KindExecution, Message: "SQL Execution Failed: " + err.Error(), Err: err}
	}
	return nil
}

func executionError(err error) *StageError {
	return &StageError{Stage: StageExecute, Kind: KindExecution, Message: "SQL Execution Failed: " + err.Error(), Err: err}
}

// providerLabel names the backend a request is served by, which is the
// fallback for empty or unrecognised names.
func providerLabel(name string) string {
	provider, ok := llm.ParseProvider(name)
	if !ok {
		return llm.FallbackProvider.String()
	}
	return provider.String()
}
