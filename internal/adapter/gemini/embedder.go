package gemini

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docsearch/internal/adapter/throttle"
	"docsearch/internal/metrics"
	"docsearch/internal/vector"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-embedding-001"
	provider     = "gemini"
)

var ErrEmptyEmbedding = errors.New("gemini returned no embedding")

type Config struct {
	APIKey    string
	Model     string
	BatchSize int
	RPS       float64
}

type Embedder struct {
	client  *genai.Client
	model   string
	batcher *throttle.Batcher
}

var _ vector.Embedder = (*Embedder)(nil)

func NewEmbedder(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Embedder, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client:  client,
		model:   model,
		batcher: throttle.NewBatcher(cfg.BatchSize, cfg.RPS),
	}, nil
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Close() error {
	return e.client.Close()
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	start := time.Now()
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	e.observe(start, 1, err)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil {
		return nil, ErrEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in provider-sized requests, preserving order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "texts", len(texts))
	return e.batcher.Run(ctx, texts, e.embedOnce)
}

func (e *Embedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	b := em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}

	start := time.Now()
	res, err := em.BatchEmbedContents(ctx, b)
	e.observe(start, len(texts), err)
	if err != nil {
		slog.ErrorContext(ctx, "batch embedding failed", "error", err, "texts", len(texts))
		return nil, err
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, ErrEmptyEmbedding
		}
		out[i] = emb.Values
	}
	return out, nil
}

func (e *Embedder) observe(start time.Time, texts int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, status).Inc()
	if err == nil {
		metrics.EmbeddingRequestDuration.WithLabelValues(provider, e.model).Observe(time.Since(start).Seconds())
		metrics.EmbeddedTextsTotal.WithLabelValues(provider, e.model).Add(float64(texts))
	}
}
