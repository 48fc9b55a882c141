package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/salesqa/salesqa/internal/pipeline"
)

type askRequest struct {
	Question      string `json:"question"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
}

// decodeAskRequest reads a question body. It writes the 400 response itself
// and reports false when the body is unusable.
func decodeAskRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "request_too_large", "request body is too large")
			return pipeline.Request{}, false
		}
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return pipeline.Request{}, false
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", "question is required")
		return pipeline.Request{}, false
	}
	provider := strings.TrimSpace(request.ModelProvider)
	if provider == "" {
		provider = "openai"
	}
	return pipeline.Request{
		Question: request.Question,
		Provider: provider,
		Model:    strings.TrimSpace(request.ModelName),
	}, true
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "pipeline_not_configured", "question pipeline is not configured")
		return
	}
	req, ok := decodeAskRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Pipeline.Query(r.Context(), req))
}

func handleQnA(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "pipeline_not_configured", "question pipeline is not configured")
		return
	}
	req, ok := decodeAskRequest(w, r)
	if !ok {
		return
	}
	resp := deps.Pipeline.QnA(r.Context(), req)
	if resp.Error != "" && resp.Summary == "" {
		resp.Summary = "An error occurred."
	}
	if resp.Data == nil {
		resp.Data = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "schema_not_configured", "store is not configured")
		return
	}
	summary, err := deps.Schema.SchemaSummary(r.Context())
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "schema summary failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusServiceUnavailable, "schema_unavailable", "failed to load schema")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dialect": deps.Schema.Dialect(),
		"tables":  deps.Schema.UsableTables(),
		"schema":  summary,
	})
}

func handleTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "schema_not_configured", "store is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": deps.Schema.UsableTables()})
}
