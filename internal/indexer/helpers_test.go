package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docsearch/internal/adapter/sqlite"
	"docsearch/internal/loader"
	"docsearch/internal/vector"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(strings.Count(t, " ") + 1), 1}
	}
	return out, nil
}

var errQuota = errors.New("quota exceeded")

func newTestIndex(t *testing.T, emb vector.Embedder) *vector.Index {
	t.Helper()
	db, err := sqlite.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return vector.NewIndex(db.Collection("test_docs"), emb, "test_docs", "fake-embedding")
}

func newTestBuilder(t *testing.T, dir string, emb vector.Embedder) (*Builder, *vector.Index) {
	t.Helper()
	idx := newTestIndex(t, emb)
	return NewBuilder(dir, idx, loader.New(200, 20), nil), idx
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
