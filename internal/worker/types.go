// Package worker connects index builds to NSQ: it consumes external build
// triggers and publishes build outcomes.
package worker

import (
	"context"

	"docsearch/internal/indexer"
)

// BuildTriggerPayload is the body of an index.build message.
type BuildTriggerPayload struct {
	Rebuild       bool   `json:"rebuild"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// BuildResultPayload is the body of an index.result message.
type BuildResultPayload struct {
	BuildID        string             `json:"build_id"`
	Trigger        string             `json:"trigger"`
	Rebuild        bool               `json:"rebuild"`
	Success        bool               `json:"success"`
	Message        string             `json:"message,omitempty"`
	TotalChunks    int                `json:"total_chunks"`
	PreviousChunks int                `json:"previous_chunks"`
	FilesProcessed []indexer.FileStat `json:"files_processed"`
	Error          string             `json:"error,omitempty"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
}

type BuildStarter interface {
	Start(ctx context.Context, rebuild bool, trigger string) (string, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}
