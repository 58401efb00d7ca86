package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendSQLite   = "sqlite"
	BackendWeaviate = "weaviate"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Documents & index
	DocumentDir    string `envconfig:"DOCUMENT_DIR" default:"./document_source"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"stm32_manual_embedding"`
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"sqlite"`
	VectorDir      string `envconfig:"VECTOR_DIR" default:"./vector_store"`
	ChunkMaxChars  int    `envconfig:"CHUNK_MAX_CHARS" default:"1500"`
	ChunkOverlap   int    `envconfig:"CHUNK_OVERLAP" default:"200"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Embeddings
	EmbeddingProvider  string  `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingBatchSize int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingRPS       float64 `envconfig:"EMBEDDING_RPS" default:"5"`
	GeminiAPIKey       string  `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey       string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string  `envconfig:"OPENAI_BASE_URL"`
	RedisAddr          string  `envconfig:"REDIS_ADDR"`
	EmbeddingCacheTTL  int     `envconfig:"EMBEDDING_CACHE_TTL_SECONDS" default:"86400"`

	// Retrieval
	SearchDefaultK   int `envconfig:"SEARCH_DEFAULT_K" default:"5"`
	OversampleFactor int `envconfig:"SEARCH_OVERSAMPLE_FACTOR" default:"5"`
	OversampleFloor  int `envconfig:"SEARCH_OVERSAMPLE_FLOOR" default:"20"`

	// Build history (empty DB_HOST disables it)
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"docsearch"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"docsearch"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// NSQ (empty NSQD_HOST disables triggers and events)
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableBuildWorker bool `envconfig:"ENABLE_BUILD_WORKER" default:"true"`
	WatchDocuments    bool `envconfig:"WATCH_DOCUMENTS" default:"false"`
	WatchDebounceMS   int  `envconfig:"WATCH_DEBOUNCE_MS" default:"2000"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DocumentDir == "" {
		return fmt.Errorf("%w: DOCUMENT_DIR", ErrMissingRequired)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case BackendSQLite:
		if c.VectorDir == "" {
			return fmt.Errorf("%w: VECTOR_DIR", ErrMissingRequired)
		}
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}

	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_CHARS must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_MAX_CHARS)", ErrInvalidValue)
	}
	return nil
}

// HistoryEnabled reports whether build history is persisted to postgres.
func (c *Config) HistoryEnabled() bool {
	return c.DBHost != ""
}

// MessagingEnabled reports whether NSQ triggers and events are wired.
func (c *Config) MessagingEnabled() bool {
	return c.NSQDHost != ""
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}
