// Package embcache caches query embeddings in a key-value store.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"docsearch/internal/metrics"
	"docsearch/internal/vector"
)

const keyPrefix = "docsearch:emb:"

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedEmbedder decorates a vector.Embedder. Single-text embeddings are
// read through the cache; batch embeddings go straight to the provider.
// Cache failures never fail a request.
type CachedEmbedder struct {
	inner  vector.Embedder
	store  Store
	model  string
	logger *slog.Logger
}

var _ vector.Embedder = (*CachedEmbedder)(nil)

func New(inner vector.Embedder, store Store, model string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, store: store, model: model, logger: logger}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.Key(text)

	if vec, ok := c.get(ctx, key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, vector.EncodeFloat32s(vec)); err != nil {
		c.logger.WarnContext(ctx, "failed to cache embedding", "key", key, "error", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// Key is the cache key of text under the configured model.
func (c *CachedEmbedder) Key(text string) string {
	h := sha256.Sum256([]byte(text))
	return keyPrefix + c.model + ":" + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			metrics.EmbeddingCacheTotal.WithLabelValues("error").Inc()
			c.logger.WarnContext(ctx, "failed to read cached embedding", "key", key, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	vec, err := vector.DecodeFloat32s(data)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to parse cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}
