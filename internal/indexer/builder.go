// Package indexer builds the vector index from the document directory.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"docsearch/internal/loader"
	"docsearch/internal/vector"
)

var (
	ErrConfig          = errors.New("configuration error")
	ErrNoDocuments     = errors.New("no documents found")
	ErrEmptyCorpus     = errors.New("empty corpus")
	ErrBuildInProgress = errors.New("index build already in progress")
)

const (
	MessageBuilt   = "Index built successfully"
	MessageNothing = "No new files to index"
)

type FileStat struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
}

// BuildResult is the structured outcome of one build. Failures are
// reported through Success, Error and Err rather than returned.
type BuildResult struct {
	Success        bool       `json:"success"`
	Message        string     `json:"message,omitempty"`
	Rebuild        bool       `json:"rebuild"`
	TotalChunks    int        `json:"total_chunks"`
	PreviousChunks int        `json:"previous_chunks"`
	FilesProcessed []FileStat `json:"files_processed"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	CollectionName string     `json:"collection_name,omitempty"`
	Error          string     `json:"error,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	Err            error      `json:"-"`
}

// NewChunks is the number of chunks the build added.
func (r BuildResult) NewChunks() int {
	if !r.Success {
		return 0
	}
	return r.TotalChunks - r.PreviousChunks
}

// Progress receives build progress. Implementations must tolerate being
// called from the build goroutine only.
type Progress interface {
	Stage(name string, total int)
	Advance(n int)
	Finish()
}

type Loader interface {
	Load(path string) ([]loader.Chunk, int, error)
}

type Builder struct {
	dir    string
	index  *vector.Index
	loader Loader
	logger *slog.Logger
}

func NewBuilder(dir string, index *vector.Index, l Loader, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{dir: dir, index: index, loader: l, logger: logger}
}

func (b *Builder) Dir() string { return b.dir }

// Build indexes the document directory. With rebuild unset only files whose
// name is not yet in the collection are processed; with rebuild set the
// collection is replaced. Nothing is written unless every file loads and
// the whole batch embeds.
func (b *Builder) Build(ctx context.Context, rebuild bool, progress Progress) BuildResult {
	start := time.Now()
	res := b.build(ctx, rebuild, progress)
	res.Rebuild = rebuild
	res.DurationMS = time.Since(start).Milliseconds()
	if res.FilesProcessed == nil {
		res.FilesProcessed = []FileStat{}
	}
	if progress != nil {
		progress.Finish()
	}

	if res.Success {
		b.logger.InfoContext(ctx, "index build finished",
			"rebuild", rebuild, "message", res.Message,
			"previous_chunks", res.PreviousChunks, "total_chunks", res.TotalChunks,
			"files", len(res.FilesProcessed), "duration_ms", res.DurationMS)
	} else {
		b.logger.ErrorContext(ctx, "index build failed",
			"rebuild", rebuild, "error", res.Error, "files", len(res.FilesProcessed))
	}
	return res
}

func (b *Builder) build(ctx context.Context, rebuild bool, progress Progress) BuildResult {
	files, err := Discover(b.dir)
	if err != nil {
		return failure(err, nil, "Please add PDF, TXT, or DOCX files to the document directory.")
	}

	indexed := map[string]bool{}
	nextSeq := 0
	if !rebuild {
		snap, err := b.index.Get(ctx, nil, false)
		if err != nil {
			return failure(fmt.Errorf("Failed to read collection: %w", err), nil, "")
		}
		for _, md := range snap.Metadatas {
			indexed[md.Source] = true
		}
		nextSeq = NextChunkSeq(snap.IDs)
	}

	var records []vector.Record
	var texts []string
	stats := []FileStat{}

	if progress != nil {
		progress.Stage("loading", len(files))
	}
	for _, path := range files {
		name := filepath.Base(path)
		if !rebuild && indexed[name] {
			b.logger.DebugContext(ctx, "skipping indexed file", "file", name)
			if progress != nil {
				progress.Advance(1)
			}
			continue
		}

		chunks, units, err := b.loader.Load(path)
		if err != nil {
			return failure(fmt.Errorf("Error processing %s: %w", name, err), stats, "")
		}
		stats = append(stats, FileStat{Filename: name, Pages: units, Chunks: len(chunks)})
		b.logger.DebugContext(ctx, "loaded file", "file", name, "units", units, "chunks", len(chunks))

		for _, c := range chunks {
			records = append(records, vector.Record{
				ID:   ChunkID(nextSeq),
				Text: c.Text,
				Metadata: vector.Metadata{
					Source:   c.Source,
					Page:     c.Page,
					FilePath: path,
				},
			})
			texts = append(texts, c.Text)
			nextSeq++
		}
		if progress != nil {
			progress.Advance(1)
		}
	}

	if len(records) == 0 {
		if rebuild {
			return failure(fmt.Errorf("%w: No text chunks collected from documents.", ErrEmptyCorpus), stats,
				"Documents may be empty or unreadable.")
		}
		count, err := b.index.Count(ctx)
		if err != nil {
			return failure(fmt.Errorf("Failed to read collection: %w", err), stats, "")
		}
		return BuildResult{
			Success:        true,
			Message:        MessageNothing,
			TotalChunks:    count,
			PreviousChunks: count,
			FilesProcessed: stats,
			EmbeddingModel: b.index.ModelName(),
			CollectionName: b.index.CollectionName(),
		}
	}

	if progress != nil {
		progress.Stage("embedding", len(texts))
	}
	embeddings, err := b.index.EncodeBatch(ctx, texts)
	if err != nil {
		return failure(fmt.Errorf("Failed to encode documents: %w", err), stats, "")
	}
	for i := range records {
		records[i].Embedding = embeddings[i]
	}
	if progress != nil {
		progress.Advance(len(texts))
	}

	previous, err := b.index.Count(ctx)
	if err != nil {
		return failure(fmt.Errorf("Failed to update %s collection: %w", b.index.CollectionName(), err), stats, "")
	}
	if rebuild && previous > 0 {
		snap, err := b.index.Get(ctx, nil, false)
		if err == nil {
			err = b.index.Delete(ctx, snap.IDs)
		}
		if err != nil {
			return failure(fmt.Errorf("Failed to update %s collection: %w", b.index.CollectionName(), err), stats, "")
		}
		previous = 0
	}

	if progress != nil {
		progress.Stage("storing", len(records))
	}
	if err := b.index.Add(ctx, records); err != nil {
		return failure(fmt.Errorf("Failed to update %s collection: %w", b.index.CollectionName(), err), stats, "")
	}
	if progress != nil {
		progress.Advance(len(records))
	}

	total, err := b.index.Count(ctx)
	if err != nil {
		return failure(fmt.Errorf("Failed to update %s collection: %w", b.index.CollectionName(), err), stats, "")
	}

	return BuildResult{
		Success:        true,
		Message:        MessageBuilt,
		TotalChunks:    total,
		PreviousChunks: previous,
		FilesProcessed: stats,
		EmbeddingModel: b.index.ModelName(),
		CollectionName: b.index.CollectionName(),
	}
}

func failure(err error, stats []FileStat, message string) BuildResult {
	return BuildResult{
		Success:        false,
		Message:        message,
		FilesProcessed: stats,
		Error:          err.Error(),
		Err:            err,
	}
}
