// Package index exposes index builds over HTTP and keeps their history.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"docsearch/internal/indexer"
	"docsearch/internal/middleware"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type Coordinator interface {
	Start(ctx context.Context, rebuild bool, trigger string) (string, error)
	Run(ctx context.Context, rebuild bool, trigger string, progress indexer.Progress) (indexer.Build, error)
	Status() indexer.Status
}

type Handler struct {
	builds Coordinator
	repo   Repository
}

// NewHandler wires the build endpoints. repo may be nil when build history
// is disabled.
func NewHandler(c Coordinator, repo Repository) *Handler {
	return &Handler{builds: c, repo: repo}
}

func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	rebuild, err := parseRebuild(r)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "rebuild must be a boolean", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "starting index build", "rebuild", rebuild, "correlationId", correlationID)

	id, err := h.builds.Start(ctx, rebuild, indexer.TriggerHTTP)
	if err != nil {
		h.writeBuildError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"build_id": id,
			"state":    indexer.StateRunning,
			"rebuild":  rebuild,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) BuildSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	rebuild, err := parseRebuild(r)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "rebuild must be a boolean", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "running index build", "rebuild", rebuild, "correlationId", correlationID)

	b, err := h.builds.Run(ctx, rebuild, indexer.TriggerHTTP, nil)
	if err != nil {
		h.writeBuildError(ctx, w, err)
		return
	}

	status := http.StatusOK
	resp := map[string]interface{}{"data": b}
	if b.Result != nil && !b.Result.Success {
		status = http.StatusUnprocessableEntity
		resp["error"] = map[string]string{
			"code":    "BUILD_FAILED",
			"message": b.Result.Error,
		}
		resp["correlationId"] = correlationID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": h.builds.Status()}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if h.repo == nil {
		h.writeError(ctx, w, "UNAVAILABLE", "build history is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	slog.InfoContext(ctx, "listing index builds", "limit", limit, "correlationId", correlationID)

	records, err := h.repo.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list builds", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list builds", http.StatusInternalServerError)
		return
	}

	total, err := h.repo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count builds", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list builds", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": records,
		"meta": map[string]int{"count": len(records), "total": total},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func parseRebuild(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("rebuild")
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (h *Handler) writeBuildError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, indexer.ErrBuildInProgress) {
		h.writeError(ctx, w, "CONFLICT", "An index build is already running", http.StatusConflict)
		return
	}
	slog.ErrorContext(ctx, "failed to start build", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
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
