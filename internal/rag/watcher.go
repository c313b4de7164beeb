package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mapleportal/internal/loader"
)

const defaultSettle = 500 * time.Millisecond

// Watcher keeps the knowledge base in step with a data directory. Changes to
// a file are applied once it has been quiet for the settle period.
type Watcher struct {
	ingestor *Ingestor
	root     string
	settle   time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	pending map[string]struct{}
}

func NewWatcher(ingestor *Ingestor, root string, settle time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher failed: %w", err)
	}
	w := &Watcher{
		ingestor: ingestor,
		root:     root,
		settle:   settle,
		logger:   logger.Named("rag.watch"),
		watcher:  fw,
		pending:  make(map[string]struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every directory below it; fsnotify is not recursive.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s failed: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.observe(event)
			timer.Reset(w.settle)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) observe(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory failed", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}
	if !loader.Supported(event.Name) {
		return
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	w.pending[event.Name] = struct{}{}
}

func (w *Watcher) flush(ctx context.Context) {
	for path := range w.pending {
		delete(w.pending, path)
		w.apply(ctx, path)
	}
}

// apply reindexes path if it still exists and drops it otherwise.
func (w *Watcher) apply(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := w.ingestor.RemoveFile(ctx, w.root, path); err != nil {
			w.logger.Warn("remove document failed", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Info("document removed", zap.String("path", path))
		return
	}
	n, err := w.ingestor.IngestFile(ctx, w.root, path)
	if err != nil {
		w.logger.Warn("reindex document failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("document reindexed", zap.String("path", path), zap.Int("chunks", n))
}
