package index

import (
	"context"
	"log/slog"

	"docsearch/internal/indexer"
)

// History records coordinator builds in the repository. Failures are
// logged; they never affect the build.
type History struct {
	repo Repository
}

func NewHistory(repo Repository) *History {
	return &History{repo: repo}
}

func (h *History) BuildStarted(ctx context.Context, b indexer.Build) {
	if err := h.repo.Start(ctx, b); err != nil {
		slog.ErrorContext(ctx, "failed to record build start", "error", err)
	}
}

func (h *History) BuildFinished(ctx context.Context, b indexer.Build) {
	if err := h.repo.Finish(ctx, b); err != nil {
		slog.ErrorContext(ctx, "failed to record build result", "error", err)
	}
}
