// Package retrieval answers semantic queries against the vector index,
// optionally restricted to sources matched by name.
package retrieval

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"docsearch/internal/metrics"
	"docsearch/internal/middleware"
	"docsearch/internal/vector"
)

var ErrEmptyQuery = errors.New("query must not be empty")

const (
	DefaultK                = 5
	DefaultOversampleFactor = 5
	DefaultOversampleFloor  = 20
)

type SearchResult struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Source   string   `json:"source"`
	Page     int      `json:"page"`
	FilePath string   `json:"file_path,omitempty"`
	Distance *float32 `json:"distance"`
	Score    *float32 `json:"score"`
}

type Stats struct {
	TotalChunks    int      `json:"total_chunks"`
	CollectionName string   `json:"collection_name"`
	EmbeddingModel string   `json:"embedding_model"`
	Sources        []string `json:"sources"`
}

// Options tune filtered search. A filtered query asks the store for
// max(OversampleFactor*k, OversampleFloor) results before trimming to k.
type Options struct {
	DefaultK         int
	OversampleFactor int
	OversampleFloor  int
}

type Index interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, embedding []float32, n int, filter *vector.Filter) ([]vector.Match, error)
	Sources(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	CollectionName() string
	ModelName() string
}

type Service struct {
	index  Index
	opts   Options
	logger *QueryLogger
}

func NewService(index Index, opts Options, l *QueryLogger) *Service {
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultK
	}
	if opts.OversampleFactor <= 0 {
		opts.OversampleFactor = DefaultOversampleFactor
	}
	if opts.OversampleFloor <= 0 {
		opts.OversampleFloor = DefaultOversampleFloor
	}
	return &Service{index: index, opts: opts, logger: l}
}

func (s *Service) DefaultK() int { return s.opts.DefaultK }

// Search returns at most k chunks nearest to query, in store order. When
// sourceFilter yields any terms, only chunks from sources containing one
// of them are returned, and a filter that matches no source yields no
// results.
func (s *Service) Search(ctx context.Context, query string, k int, sourceFilter []string) ([]SearchResult, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = s.opts.DefaultK
	}

	needles := Needles(sourceFilter)
	filtered := strconv.FormatBool(len(needles) > 0)
	entry := QueryLogEntry{
		Query:         query,
		K:             k,
		SourceFilter:  needles,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}

	results, err := s.search(ctx, query, k, needles, &entry)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(filtered, status).Inc()
	metrics.SearchDuration.WithLabelValues(filtered).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		entry.NumResults = len(results)
		entry.Duration = time.Since(start)
		s.logger.Log(entry)
	}
	return results, nil
}

func (s *Service) search(ctx context.Context, query string, k int, needles []string, entry *QueryLogEntry) ([]SearchResult, error) {
	var matched []string
	if len(needles) > 0 {
		catalog, err := s.index.Sources(ctx)
		if err != nil {
			return nil, err
		}
		matched = MatchSources(catalog, needles)
		entry.MatchedSources = matched
		if len(matched) == 0 {
			return []SearchResult{}, nil
		}
	}

	emb, err := s.index.Encode(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		matches, err := s.index.Query(ctx, emb, k, nil)
		if err != nil {
			return nil, err
		}
		return shape(matches), nil
	}

	n := max(s.opts.OversampleFactor*k, s.opts.OversampleFloor)
	filter := vector.SourceIn(matched...)

	matches, err := s.index.Query(ctx, emb, n, filter)
	if err == nil {
		if len(matches) > k {
			matches = matches[:k]
		}
		return shape(matches), nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	entry.Fallback = true
	metrics.SearchFilterFallbacksTotal.Inc()

	all, err := s.index.Query(ctx, emb, n, nil)
	if err != nil {
		return nil, err
	}
	kept := make([]vector.Match, 0, k)
	for _, m := range all {
		if !filter.Matches(m.Metadata) {
			continue
		}
		kept = append(kept, m)
		if len(kept) == k {
			break
		}
	}
	return shape(kept), nil
}

// ListDocuments returns the sorted indexed sources containing filter, or
// all of them when filter is blank.
func (s *Service) ListDocuments(ctx context.Context, filter string) ([]string, error) {
	catalog, err := s.index.Sources(ctx)
	if err != nil {
		return nil, err
	}
	needles := Needles([]string{filter})
	if len(needles) == 0 {
		return catalog, nil
	}
	return MatchSources(catalog, needles), nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := s.index.Sources(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalChunks:    count,
		CollectionName: s.index.CollectionName(),
		EmbeddingModel: s.index.ModelName(),
		Sources:        sources,
	}, nil
}

// Needles lower-cases and trims the filter terms, dropping empty ones.
func Needles(terms []string) []string {
	var out []string
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MatchSources keeps the catalog entries containing any needle,
// case-insensitively, preserving catalog order.
func MatchSources(catalog, needles []string) []string {
	out := []string{}
	for _, src := range catalog {
		lower := strings.ToLower(src)
		if slices.ContainsFunc(needles, func(n string) bool { return strings.Contains(lower, n) }) {
			out = append(out, src)
		}
	}
	return out
}

func shape(matches []vector.Match) []SearchResult {
	out := make([]SearchResult, len(matches))
	for i, m := range matches {
		out[i] = SearchResult{
			ID:       m.ID,
			Text:     m.Text,
			Source:   m.Metadata.Source,
			Page:     m.Metadata.Page,
			FilePath: m.Metadata.FilePath,
			Distance: m.Distance,
		}
		if m.Distance != nil {
			score := 1 - *m.Distance
			out[i].Score = &score
		}
	}
	return out
}
