// Package throttle splits embedding workloads into provider-sized requests
// and paces them with a token bucket.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// EmbedFunc embeds one provider-sized batch.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

type Batcher struct {
	size    int
	limiter *rate.Limiter
}

// NewBatcher returns a batcher issuing at most size texts per request and
// rps requests per second. A non-positive rps disables pacing.
func NewBatcher(size int, rps float64) *Batcher {
	if size <= 0 {
		size = 100
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Batcher{size: size, limiter: rate.NewLimiter(limit, 1)}
}

func (b *Batcher) Size() int { return b.size }

// Run embeds texts in order. The first failing request aborts the run.
func (b *Batcher) Run(ctx context.Context, texts []string, fn EmbedFunc) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("texts %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("texts %d-%d: provider returned %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
