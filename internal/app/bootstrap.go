package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"docsearch/internal/adapter/embcache"
	"docsearch/internal/adapter/gemini"
	"docsearch/internal/adapter/openai"
	"docsearch/internal/adapter/sqlite"
	wstore "docsearch/internal/adapter/weaviate"
	"docsearch/internal/config"
	"docsearch/internal/vector"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// SchemaEnsurer is implemented by stores that need their schema created
// before first use.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Dependencies holds the external resources the app is assembled from.
// DB and NSQProducer are nil when build history or messaging is disabled.
type Dependencies struct {
	DB          *sql.DB
	Collection  vector.Collection
	Embedder    vector.Embedder
	ModelName   string
	NSQProducer *nsq.Producer

	closers []func()
}

// Close releases every resource opened by Bootstrap, last opened first.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Dependencies) onClose(fn func()) {
	d.closers = append(d.closers, fn)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	if cfg.HistoryEnabled() {
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		deps.DB = db
		deps.onClose(func() { _ = db.Close() })
	}

	collection, err := openCollection(ctx, cfg, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Collection = collection

	embedder, model, err := newEmbedder(ctx, cfg, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Embedder = embedder
	deps.ModelName = model

	if cfg.MessagingEnabled() {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		producer.SetLoggerLevel(nsq.LogLevelWarning)
		deps.NSQProducer = producer
		deps.onClose(producer.Stop)

		if cfg.NSQDHTTP != "" {
			createTopics(cfg.NSQDHTTP)
		}
	}

	return deps, nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(cfg.RetryDelay())
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return db, nil
}

func openCollection(ctx context.Context, cfg *config.Config, deps *Dependencies) (vector.Collection, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client, cfg.CollectionName)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	case config.BackendSQLite, "":
		db, err := sqlite.Open(ctx, cfg.VectorDir)
		if err != nil {
			return nil, fmt.Errorf("vector store error: %w", err)
		}
		deps.onClose(func() { _ = db.Close() })
		return db.Collection(cfg.CollectionName), nil
	default:
		return nil, fmt.Errorf("%w: VECTOR_BACKEND=%q", config.ErrInvalidValue, cfg.VectorBackend)
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config, deps *Dependencies) (vector.Embedder, string, error) {
	var (
		embedder vector.Embedder
		model    string
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		e := openai.NewEmbedder(openai.Config{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.EmbeddingModel,
			BatchSize: cfg.EmbeddingBatchSize,
			RPS:       cfg.EmbeddingRPS,
		})
		embedder, model = e, e.Model()
	case config.ProviderGemini, "":
		e, err := gemini.NewEmbedder(ctx, gemini.Config{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.EmbeddingModel,
			BatchSize: cfg.EmbeddingBatchSize,
			RPS:       cfg.EmbeddingRPS,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%w: embedding model: %v", config.ErrInvalidValue, err)
		}
		deps.onClose(func() { _ = e.Close() })
		embedder, model = e, e.Model()
	default:
		return nil, "", fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", config.ErrInvalidValue, cfg.EmbeddingProvider)
	}

	if cfg.RedisAddr == "" {
		return embedder, model, nil
	}
	cache, err := openEmbeddingCache(ctx, cfg)
	if err != nil {
		slog.Warn("embedding cache unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		return embedder, model, nil
	}
	deps.onClose(cache.Close)
	return embcache.New(embedder, cache, model, slog.Default()), model, nil
}

func openEmbeddingCache(ctx context.Context, cfg *config.Config) (*embcache.RedisStore, error) {
	cache, err := embcache.NewRedisStore(cfg.RedisAddr, time.Duration(cfg.EmbeddingCacheTTL)*time.Second)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		cache.Close()
		return nil, err
	}
	return cache, nil
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIndexBuild)
		create(config.TopicIndexResult)
	}()
}

// EnsureSchemaWithRetry calls store.EnsureSchema up to attempts times.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
