package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"docsearch/internal/config"
	"docsearch/internal/indexer"
	"docsearch/internal/middleware"
)

// ResultPublisher announces finished builds on index.result.
type ResultPublisher struct {
	pub TaskPublisher
}

func NewResultPublisher(p TaskPublisher) *ResultPublisher {
	return &ResultPublisher{pub: p}
}

func (p *ResultPublisher) BuildStarted(context.Context, indexer.Build) {}

func (p *ResultPublisher) BuildFinished(ctx context.Context, b indexer.Build) {
	payload := BuildResultPayload{
		BuildID: b.ID,
		Trigger: b.Trigger,
		Rebuild: b.Rebuild,
	}
	if cid := middleware.GetCorrelationID(ctx); cid != "unknown" {
		payload.CorrelationID = cid
	}
	if r := b.Result; r != nil {
		payload.Success = r.Success
		payload.Message = r.Message
		payload.TotalChunks = r.TotalChunks
		payload.PreviousChunks = r.PreviousChunks
		payload.FilesProcessed = r.FilesProcessed
		payload.Error = r.Error
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal build result", "error", err)
		return
	}
	if err := p.pub.Publish(config.TopicIndexResult, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish build result", "error", err)
	}
}
