package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/adapter/embcache"
	"docsearch/internal/app"
	"docsearch/internal/config"
)

type mockSchemaStore struct {
	err       error
	callCount int
	failUntil int
}

func (m *mockSchemaStore) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.err != nil {
		return m.err
	}
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	store := &mockSchemaStore{}
	err := app.EnsureSchemaWithRetry(context.Background(), store, 1, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, store.callCount)
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	store := &mockSchemaStore{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), store, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, store.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	store := &mockSchemaStore{err: errors.New("permanent error")}
	err := app.EnsureSchemaWithRetry(context.Background(), store, 3, time.Millisecond)
	assert.EqualError(t, err, "permanent error")
	assert.Equal(t, 3, store.callCount)
}

func TestEnsureSchemaWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &mockSchemaStore{err: errors.New("unreachable")}
	err := app.EnsureSchemaWithRetry(ctx, store, 5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.callCount)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost: "invalid-host",
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}

func TestBootstrap_InvalidBackend(t *testing.T) {
	cfg := &config.Config{VectorBackend: "chroma"}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidValue)
	assert.Nil(t, deps)
}

func TestBootstrap_LocalOnly(t *testing.T) {
	cfg := &config.Config{
		VectorBackend:     config.BackendSQLite,
		VectorDir:         filepath.Join(t.TempDir(), "vectors"),
		CollectionName:    "test_collection",
		EmbeddingProvider: config.ProviderOpenAI,
		OpenAIAPIKey:      "sk-test",
		EmbeddingModel:    "text-embedding-3-small",
	}

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.NSQProducer)
	assert.NotNil(t, deps.Collection)
	assert.NotNil(t, deps.Embedder)
	assert.Equal(t, "text-embedding-3-small", deps.ModelName)
}

func TestBootstrap_EmbeddingCacheUnreachable(t *testing.T) {
	cfg := &config.Config{
		VectorBackend:     config.BackendSQLite,
		VectorDir:         filepath.Join(t.TempDir(), "vectors"),
		CollectionName:    "test_collection",
		EmbeddingProvider: config.ProviderOpenAI,
		OpenAIAPIKey:      "sk-test",
		EmbeddingModel:    "text-embedding-3-small",
		RedisAddr:         "127.0.0.1:1",
	}

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	_, cached := deps.Embedder.(*embcache.CachedEmbedder)
	assert.False(t, cached)
	assert.NotNil(t, deps.Embedder)
}
