package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"docsearch/internal/indexer"
	"docsearch/internal/middleware"
)

type BuildConsumer struct {
	builds BuildStarter
}

func NewBuildConsumer(b BuildStarter) *BuildConsumer {
	return &BuildConsumer{builds: b}
}

// HandleMessage starts a background build. Triggers that arrive while a
// build is running are dropped, not requeued.
func (h *BuildConsumer) HandleMessage(m *nsq.Message) error {
	var payload BuildTriggerPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			// Poison Pill: Invalid JSON, don't retry
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	id, err := h.builds.Start(ctx, payload.Rebuild, indexer.TriggerQueue)
	if errors.Is(err, indexer.ErrBuildInProgress) {
		slog.WarnContext(ctx, "build trigger dropped: build in progress", "rebuild", payload.Rebuild)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to start build", "error", err)
		return err
	}

	slog.InfoContext(ctx, "build triggered from queue", "build_id", id, "rebuild", payload.Rebuild)
	return nil
}
