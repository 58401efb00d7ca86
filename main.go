package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docsearch/internal/app"
	"docsearch/internal/config"
	"docsearch/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	application, err := app.New(cfg, deps, log)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	slog.Info("docsearch ready",
		"collection", cfg.CollectionName,
		"backend", cfg.VectorBackend,
		"embedding_model", deps.ModelName,
		"history", cfg.HistoryEnabled(),
		"messaging", cfg.MessagingEnabled(),
	)
	return application.Run(ctx)
}
