// Package vector defines the indexed chunk model and the contracts of the
// vector collection and embedding model the index is built on.
package vector

import (
	"context"
	"errors"
	"slices"
)

var (
	ErrStore             = errors.New("vector store failure")
	ErrEmbedding         = errors.New("embedding failure")
	ErrFilterUnsupported = errors.New("metadata filter not supported")
)

// Metadata is stored alongside every chunk.
type Metadata struct {
	Source   string `json:"source"`
	Page     int    `json:"page"`
	FilePath string `json:"file_path"`
}

type Record struct {
	ID        string
	Text      string
	Metadata  Metadata
	Embedding []float32
}

// Match is one ranked query result. Distance is nil when the store does not
// report one.
type Match struct {
	ID       string
	Text     string
	Metadata Metadata
	Distance *float32
}

// Filter restricts operations to chunks whose source is one of Sources.
// A nil *Filter matches everything.
type Filter struct {
	Sources []string
}

func SourceIn(sources ...string) *Filter {
	return &Filter{Sources: sources}
}

func (f *Filter) Matches(m Metadata) bool {
	if f == nil {
		return true
	}
	return slices.Contains(f.Sources, m.Source)
}

// Snapshot is the bulk read of a collection. Documents is only populated
// when requested.
type Snapshot struct {
	IDs       []string
	Metadatas []Metadata
	Documents []string
}

type Collection interface {
	Add(ctx context.Context, records []Record) error
	Get(ctx context.Context, filter *Filter, includeDocuments bool) (*Snapshot, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, ids []string) error
	// Query returns at most n matches ordered by ascending distance. Stores
	// that cannot apply filter natively return ErrFilterUnsupported.
	Query(ctx context.Context, embedding []float32, n int, filter *Filter) ([]Match, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
