package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/testutils"
)

func TestBuild_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nope")
	b, _ := newTestBuilder(t, dir, &fakeEmbedder{})
	assert.Equal(t, dir, b.Dir())

	res := b.Build(context.Background(), false, nil)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrConfig)
	assert.Contains(t, res.Error, "not found")
	assert.NotNil(t, res.FilesProcessed)
}

func TestBuild_NoSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "image.png", "png")
	writeFile(t, dir, ".hidden.txt", "secret")
	b, _ := newTestBuilder(t, dir, &fakeEmbedder{})

	res := b.Build(context.Background(), true, nil)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoDocuments)
	assert.Contains(t, res.Error, "No supported files found")
}

func TestBuild_Rebuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "GPIO modes\nOutput push-pull")
	writeFile(t, dir, "a.txt", "Clock tree\nHSE oscillator")
	b, idx := newTestBuilder(t, dir, &fakeEmbedder{})

	res := b.Build(ctx, true, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, MessageBuilt, res.Message)
	assert.Equal(t, 0, res.PreviousChunks)
	assert.Equal(t, 2, res.TotalChunks)
	assert.Equal(t, "fake-embedding", res.EmbeddingModel)
	assert.Equal(t, "test_docs", res.CollectionName)
	assert.Equal(t, []FileStat{
		{Filename: "a.txt", Pages: 1, Chunks: 1},
		{Filename: "b.txt", Pages: 1, Chunks: 1},
	}, res.FilesProcessed)

	snap, err := idx.Get(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_0", "chunk_1"}, snap.IDs)
	assert.Equal(t, "a.txt", snap.Metadatas[0].Source)
	assert.Equal(t, filepath.Join(dir, "a.txt"), snap.Metadatas[0].FilePath)
	assert.Equal(t, "Clock tree\nHSE oscillator", snap.Documents[0])
}

func TestBuild_PDFPages(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var pages [][]string
	for p := 1; p <= 2; p++ {
		var lines []string
		for i := 0; i < 28; i++ {
			lines = append(lines, fmt.Sprintf("Page %d line %02d describes the RCC clock tree", p, i))
		}
		pages = append(pages, lines)
	}
	testutils.WritePDF(t, dir, "a.pdf", pages)
	b, idx := newTestBuilder(t, dir, &fakeEmbedder{})

	res := b.Build(ctx, true, nil)

	require.True(t, res.Success, res.Error)
	require.Len(t, res.FilesProcessed, 1)
	assert.Equal(t, "a.pdf", res.FilesProcessed[0].Filename)
	assert.Equal(t, 2, res.FilesProcessed[0].Pages)
	assert.Greater(t, res.FilesProcessed[0].Chunks, 2)
	assert.Equal(t, res.FilesProcessed[0].Chunks, res.TotalChunks)

	snap, err := idx.Get(ctx, nil, true)
	require.NoError(t, err)
	seen := map[int]bool{}
	for i, m := range snap.Metadatas {
		seen[m.Page] = true
		assert.NotContains(t, snap.Documents[i], "treePage")
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, seen)
}

func TestBuild_RebuildReplacesCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "first version")
	b, idx := newTestBuilder(t, dir, &fakeEmbedder{})
	require.True(t, b.Build(ctx, true, nil).Success)

	writeFile(t, dir, "a.txt", "second version")
	res := b.Build(ctx, true, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 0, res.PreviousChunks)
	assert.Equal(t, 1, res.TotalChunks)
	snap, err := idx.Get(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"second version"}, snap.Documents)
}

func TestBuild_IncrementalSkipsIndexedFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	emb := &fakeEmbedder{}
	b, idx := newTestBuilder(t, dir, emb)
	require.True(t, b.Build(ctx, false, nil).Success)

	res := b.Build(ctx, false, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, MessageNothing, res.Message)
	assert.Equal(t, 1, res.TotalChunks)
	assert.Equal(t, 1, res.PreviousChunks)
	assert.Empty(t, res.FilesProcessed)
	assert.Equal(t, 1, emb.calls)

	writeFile(t, dir, "b.txt", "beta")
	res = b.Build(ctx, false, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.PreviousChunks)
	assert.Equal(t, 2, res.TotalChunks)
	assert.Equal(t, 1, res.NewChunks())
	assert.Equal(t, []FileStat{{Filename: "b.txt", Pages: 1, Chunks: 1}}, res.FilesProcessed)

	snap, err := idx.Get(ctx, nil, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk_0", "chunk_1"}, snap.IDs)
}

func TestBuild_EmbeddingFailureLeavesCollectionUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	emb := &fakeEmbedder{}
	b, idx := newTestBuilder(t, dir, emb)
	require.True(t, b.Build(ctx, true, nil).Success)

	writeFile(t, dir, "a.txt", "changed")
	emb.err = errQuota
	res := b.Build(ctx, true, nil)

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Failed to encode documents"), res.Error)
	assert.ErrorIs(t, res.Err, errQuota)

	snap, err := idx.Get(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, snap.Documents)
}

func TestBuild_FileErrorAbortsBuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.docx", "not a zip archive")
	b, idx := newTestBuilder(t, dir, &fakeEmbedder{})

	res := b.Build(ctx, true, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Error processing b.docx")
	assert.Equal(t, []FileStat{{Filename: "a.txt", Pages: 1, Chunks: 1}}, res.FilesProcessed)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuild_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.txt", "  \n\n ")
	b, _ := newTestBuilder(t, dir, &fakeEmbedder{})

	res := b.Build(context.Background(), true, nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrEmptyCorpus)
	assert.Contains(t, res.Error, "No text chunks collected")

	res = b.Build(context.Background(), false, nil)
	assert.True(t, res.Success)
	assert.Equal(t, MessageNothing, res.Message)
}

type recordingProgress struct {
	stages   []string
	advanced int
	finished bool
}

func (p *recordingProgress) Stage(name string, _ int) { p.stages = append(p.stages, name) }
func (p *recordingProgress) Advance(n int)            { p.advanced += n }
func (p *recordingProgress) Finish()                  { p.finished = true }

func TestBuild_ReportsProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	b, _ := newTestBuilder(t, dir, &fakeEmbedder{})
	p := &recordingProgress{}

	res := b.Build(context.Background(), true, p)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"loading", "embedding", "storing"}, p.stages)
	assert.Equal(t, 3, p.advanced)
	assert.True(t, p.finished)
}
