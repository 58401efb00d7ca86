package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"docsearch/features/index"
	"docsearch/features/mcp"
	"docsearch/features/search"
	"docsearch/internal/config"
	"docsearch/internal/indexer"
	"docsearch/internal/loader"
	"docsearch/internal/metrics"
	"docsearch/internal/middleware"
	"docsearch/internal/retrieval"
	"docsearch/internal/vector"
	"docsearch/internal/watcher"
	"docsearch/internal/worker"

	"github.com/nsqio/go-nsq"
)

const consumerChannel = "docsearch"

type App struct {
	Handler     http.Handler
	Coordinator *indexer.Coordinator
	Retrieval   *retrieval.Service

	cfg         *config.Config
	logger      *slog.Logger
	builder     *indexer.Builder
	queryLogger *retrieval.QueryLogger
}

// New assembles the index, retrieval and HTTP layers on top of deps.
func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	if deps == nil || deps.Collection == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("%w: vector collection and embedder are required", config.ErrMissingRequired)
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Register()

	idx := vector.NewIndex(deps.Collection, deps.Embedder, cfg.CollectionName, deps.ModelName)
	builder := indexer.NewBuilder(cfg.DocumentDir, idx, loader.New(cfg.ChunkMaxChars, cfg.ChunkOverlap), logger)
	coordinator := indexer.NewCoordinator(builder, logger)

	var repo index.Repository
	if deps.DB != nil {
		pg := index.NewPostgresRepo(deps.DB)
		repo = pg
		coordinator.AddListener(index.NewHistory(pg))
	}
	if deps.NSQProducer != nil {
		coordinator.AddListener(worker.NewResultPublisher(deps.NSQProducer))
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(idx, retrieval.Options{
		DefaultK:         cfg.SearchDefaultK,
		OversampleFactor: cfg.OversampleFactor,
		OversampleFloor:  cfg.OversampleFloor,
	}, queryLogger)

	indexHandler := index.NewHandler(coordinator, repo)
	searchHandler := search.NewHandler(retrievalService)
	mcpHandler := mcp.NewHandler(retrievalService, coordinator)

	route := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.CORS(h))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /index/build", route(indexHandler.Build))
	mux.Handle("POST /index/build/sync", route(indexHandler.BuildSync))
	mux.Handle("GET /index/status", route(indexHandler.Status))
	mux.Handle("GET /index/builds", route(indexHandler.List))

	mux.Handle("POST /search", route(searchHandler.Search))
	mux.Handle("GET /documents", route(searchHandler.Documents))
	mux.Handle("GET /collection/stats", route(searchHandler.Stats))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", route(mcpHandler.HandleSSE))
	mux.Handle("POST /mcp/messages", route(mcpHandler.HandleMessage))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:     metrics.Middleware(mux),
		Coordinator: coordinator,
		Retrieval:   retrievalService,
		cfg:         cfg,
		logger:      logger,
		builder:     builder,
		queryLogger: queryLogger,
	}, nil
}

// Run serves HTTP and starts the optional build consumer and document
// watcher. It returns once ctx is cancelled and in-flight builds finish.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if a.cfg.MessagingEnabled() && a.cfg.EnableBuildWorker && a.cfg.NSQLookupd != "" {
		consumer, err := a.startConsumer()
		if err != nil {
			a.logger.Error("failed to start build consumer", "error", err)
		} else {
			defer consumer.Stop()
		}
	}

	if a.cfg.WatchDocuments {
		w := watcher.New(a.builder.Dir(), a.cfg.WatchDebounce(), a.Coordinator, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				a.logger.Error("document watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	err := srv.ListenAndServe()
	cancel()
	wg.Wait()
	a.Coordinator.Wait()
	if closeErr := a.Close(); closeErr != nil {
		slog.Warn("failed to close query log", "error", closeErr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases what New opened. Deps are closed separately by their owner.
func (a *App) Close() error {
	return a.queryLogger.Close()
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(config.TopicIndexBuild, consumerChannel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(worker.NewBuildConsumer(a.Coordinator))
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect to NSQLookupd: %w", err)
	}
	slog.Info("NSQ build consumer connected", "topic", config.TopicIndexBuild, "channel", consumerChannel)
	return consumer, nil
}
