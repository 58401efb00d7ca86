package config_test

import (
	"testing"

	"docsearch/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DocumentDir:       "./docs",
		CollectionName:    "manuals",
		VectorBackend:     config.BackendSQLite,
		VectorDir:         "./vectors",
		EmbeddingProvider: config.ProviderGemini,
		GeminiAPIKey:      "key",
		ChunkMaxChars:     1500,
		ChunkOverlap:      200,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		errIs  error
	}{
		{
			name:   "Valid Config",
			mutate: func(c *config.Config) {},
		},
		{
			name:   "Missing DocumentDir",
			mutate: func(c *config.Config) { c.DocumentDir = "" },
			errIs:  config.ErrMissingRequired,
		},
		{
			name:   "Missing CollectionName",
			mutate: func(c *config.Config) { c.CollectionName = "" },
			errIs:  config.ErrMissingRequired,
		},
		{
			name:   "Unknown Backend",
			mutate: func(c *config.Config) { c.VectorBackend = "chroma" },
			errIs:  config.ErrInvalidValue,
		},
		{
			name: "Weaviate Without Host",
			mutate: func(c *config.Config) {
				c.VectorBackend = config.BackendWeaviate
				c.WeaviateHost = ""
			},
			errIs: config.ErrMissingRequired,
		},
		{
			name:   "Unknown Provider",
			mutate: func(c *config.Config) { c.EmbeddingProvider = "local" },
			errIs:  config.ErrInvalidValue,
		},
		{
			name: "OpenAI With Key",
			mutate: func(c *config.Config) {
				c.EmbeddingProvider = config.ProviderOpenAI
				c.OpenAIAPIKey = "sk-test"
			},
		},
		{
			name:   "Overlap Not Below Budget",
			mutate: func(c *config.Config) { c.ChunkOverlap = 1500 },
			errIs:  config.ErrInvalidValue,
		},
		{
			name:   "Negative Overlap",
			mutate: func(c *config.Config) { c.ChunkOverlap = -1 },
			errIs:  config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errIs == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}
