package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Index binds one collection to the embedding model used to fill and query
// it. Both are constructed at startup and shared by the builder and the
// retrieval service.
type Index struct {
	collection Collection
	embedder   Embedder
	name       string
	model      string
}

func NewIndex(collection Collection, embedder Embedder, collectionName, modelName string) *Index {
	return &Index{
		collection: collection,
		embedder:   embedder,
		name:       collectionName,
		model:      modelName,
	}
}

func (i *Index) CollectionName() string { return i.name }
func (i *Index) ModelName() string      { return i.model }

func (i *Index) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := i.collection.Add(ctx, records); err != nil {
		return fmt.Errorf("%w: add %d records: %v", ErrStore, len(records), err)
	}
	return nil
}

func (i *Index) Get(ctx context.Context, filter *Filter, includeDocuments bool) (*Snapshot, error) {
	snap, err := i.collection.Get(ctx, filter, includeDocuments)
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStore, err)
	}
	return snap, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	n, err := i.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStore, err)
	}
	return n, nil
}

func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := i.collection.Delete(ctx, ids); err != nil {
		return fmt.Errorf("%w: delete %d ids: %v", ErrStore, len(ids), err)
	}
	return nil
}

// Query runs a nearest-neighbour query. ErrFilterUnsupported is returned
// unwrapped so callers can fall back to local filtering.
func (i *Index) Query(ctx context.Context, embedding []float32, n int, filter *Filter) ([]Match, error) {
	matches, err := i.collection.Query(ctx, embedding, n, filter)
	if err != nil {
		if errors.Is(err, ErrFilterUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: query: %v", ErrStore, err)
	}
	return matches, nil
}

func (i *Index) Encode(ctx context.Context, text string) ([]float32, error) {
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	return vec, nil
}

func (i *Index) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(texts))
	}
	return vecs, nil
}

// Sources returns the sorted distinct source names currently indexed.
// It is recomputed from the collection on every call.
func (i *Index) Sources(ctx context.Context) ([]string, error) {
	snap, err := i.Get(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, m := range snap.Metadatas {
		if m.Source != "" {
			seen[m.Source] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
