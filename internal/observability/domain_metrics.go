package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesqa_pipeline_runs_total",
			Help: "Total number of pipeline invocations by variant and outcome.",
		},
		[]string{"variant", "outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesqa_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"variant", "stage"},
	)
	pipelineStageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesqa_pipeline_stage_errors_total",
			Help: "Total number of pipeline stage failures by error kind.",
		},
		[]string{"variant", "stage", "kind"},
	)
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesqa_llm_calls_total",
			Help: "Total number of model provider calls.",
		},
		[]string{"provider", "operation", "outcome"},
	)
	llmProviderFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "salesqa_llm_provider_fallbacks_total",
			Help: "Total number of unknown provider names resolved to the fallback backend.",
		},
	)
	storeQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesqa_store_queries_total",
			Help: "Total number of SQL statements executed against the dataset store.",
		},
		[]string{"dialect", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineStageDurationSeconds,
		pipelineStageErrorsTotal,
		llmCallsTotal,
		llmProviderFallbacksTotal,
		storeQueriesTotal,
	)
}

func ObservePipelineRun(variant string, failed bool) {
	pipelineRunsTotal.WithLabelValues(variant, outcomeLabel(failed)).Inc()
}

func ObserveStage(variant, stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(variant, stage).Observe(elapsed.Seconds())
}

func IncrementStageError(variant, stage, kind string) {
	pipelineStageErrorsTotal.WithLabelValues(variant, stage, kind).Inc()
}

func ObserveLLMCall(provider, operation string, failed bool) {
	llmCallsTotal.WithLabelValues(provider, operation, outcomeLabel(failed)).Inc()
}

func IncrementProviderFallback() {
	llmProviderFallbacksTotal.Inc()
}

func ObserveStoreQuery(dialect string, failed bool) {
	storeQueriesTotal.WithLabelValues(dialect, outcomeLabel(failed)).Inc()
}

func outcomeLabel(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
