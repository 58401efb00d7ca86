// Package watcher triggers incremental index builds when documents are
// dropped into the source directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"docsearch/internal/indexer"
)

const DefaultDebounce = 2 * time.Second

type Trigger interface {
	Start(ctx context.Context, rebuild bool, trigger string) (string, error)
}

type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  Trigger
	logger   *slog.Logger
}

func New(dir string, debounce time.Duration, t Trigger, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, debounce: debounce, trigger: t, logger: logger}
}

// Run watches until ctx is done. Bursts of events are coalesced into one
// build; a build requested while another runs is retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching document directory", "dir", w.dir, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !Relevant(ev) {
				continue
			}
			w.logger.Debug("document change", "file", ev.Name, "op", ev.Op.String())
			pending = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			id, err := w.trigger.Start(ctx, false, indexer.TriggerWatcher)
			if errors.Is(err, indexer.ErrBuildInProgress) {
				w.logger.Info("build in progress, postponing", "retry_in", w.debounce)
				timer.Reset(w.debounce)
				continue
			}
			if err != nil {
				w.logger.Error("failed to start build", "error", err)
			} else {
				w.logger.Info("incremental build triggered", "build_id", id)
			}
			pending = false
		}
	}
}

// Relevant reports whether ev may introduce a new document.
func Relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return indexer.IsDocument(ev.Name)
}
