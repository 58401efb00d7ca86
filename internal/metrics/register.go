package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IndexBuildsTotal,
			IndexBuildDuration,
			IndexedChunksTotal,
			CollectionChunks,
			SearchRequestsTotal,
			SearchDuration,
			SearchFilterFallbacksTotal,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddedTextsTotal,
			EmbeddingCacheTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
