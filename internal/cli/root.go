// Package cli implements docsearchctl, the command-line front end for
// building the index and querying it without running the server.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"docsearch/internal/app"
	"docsearch/internal/config"
	"docsearch/internal/indexer"
	"docsearch/internal/logger"
	"docsearch/internal/retrieval"
)

type BuildRunner interface {
	Run(ctx context.Context, rebuild bool, trigger string, progress indexer.Progress) (indexer.Build, error)
}

type Retriever interface {
	Search(ctx context.Context, query string, k int, sourceFilter []string) ([]retrieval.SearchResult, error)
	ListDocuments(ctx context.Context, filter string) ([]string, error)
	Stats(ctx context.Context) (*retrieval.Stats, error)
}

// Set by setupServices, or directly by tests.
var (
	buildRunner BuildRunner
	retriever   Retriever
	cleanup     func()
)

var rootCmd = &cobra.Command{
	Use:   "docsearchctl",
	Short: "Build and query the document search index",
	Long: `docsearchctl indexes the documents in DOCUMENT_DIR and searches them.
Configuration is read from the environment and .env, the same way the server reads it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupServices,
	PersistentPostRun: func(*cobra.Command, []string) {
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
	},
}

// ExecuteContext runs the root command; ctx is cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func setupServices(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || (buildRunner != nil && retriever != nil) {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logger.ParseLevel(cfg.LogLevel),
	})))
	slog.SetDefault(log)

	deps, err := app.Bootstrap(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	a, err := app.New(cfg, deps, log)
	if err != nil {
		deps.Close()
		return err
	}

	buildRunner = a.Coordinator
	retriever = a.Retrieval
	cleanup = func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close query log", "error", err)
		}
		deps.Close()
	}
	return nil
}
