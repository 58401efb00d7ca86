// Package search exposes retrieval over HTTP.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"docsearch/internal/middleware"
	"docsearch/internal/retrieval"
)

const maxK = 100

type Retriever interface {
	Search(ctx context.Context, query string, k int, sourceFilter []string) ([]retrieval.SearchResult, error)
	ListDocuments(ctx context.Context, filter string) ([]string, error)
	Stats(ctx context.Context) (*retrieval.Stats, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

type SearchRequest struct {
	Query  string                 `json:"query"`
	K      int                    `json:"k"`
	Source retrieval.SourceFilter `json:"source"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_JSON", err.Error(), http.StatusBadRequest)
		return
	}
	if req.K < 0 || req.K > maxK {
		h.writeError(ctx, w, "VALIDATION_ERROR", "k must be between 0 and 100", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "searching", "k", req.K, "source", []string(req.Source), "correlationId", correlationID)

	results, err := h.retriever.Search(ctx, req.Query, req.K, req.Source)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "search failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]interface{}{"count": len(results), "query": req.Query},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	filter := r.URL.Query().Get("source")

	slog.InfoContext(ctx, "listing documents", "source", filter, "correlationId", correlationID)

	docs, err := h.retriever.ListDocuments(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list documents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	stats, err := h.retriever.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to get collection stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to get collection stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": stats}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
