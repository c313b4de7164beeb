package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mapleportal/internal/loader"
)

type IngestResult struct {
	Root     string        `json:"root"`
	Chunks   int           `json:"chunks"`
	Written  int           `json:"written"`
	Reset    bool          `json:"reset"`
	Duration time.Duration `json:"duration"`
}

// Ingestor loads a directory tree into the knowledge base.
type Ingestor struct {
	loader *loader.Loader
	store  *VectorStore
	logger *zap.Logger
}

func NewIngestor(l *loader.Loader, store *VectorStore, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{loader: l, store: store, logger: logger.Named("rag.ingest")}
}

// IngestDirectory loads root and writes its chunks. With reset the collection
// is emptied first, which makes it a full reindex.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, reset bool) (*IngestResult, error) {
	start := time.Now()
	if reset {
		if err := i.store.ClearCollection(ctx); err != nil {
			return nil, fmt.Errorf("clear collection failed: %w", err)
		}
	}
	chunks, err := i.loader.LoadDirectory(ctx, root)
	if err != nil {
		return nil, err
	}
	written, err := i.store.AddChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Root: root, Chunks: len(chunks), Written: written, Reset: reset, Duration: time.Since(start)}
	i.logger.Info("ingest finished",
		zap.String("root", root),
		zap.Int("chunks", res.Chunks),
		zap.Bool("reset", reset),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// IngestFile reloads a single file, replacing the document it produced before.
func (i *Ingestor) IngestFile(ctx context.Context, root, path string) (int, error) {
	chunks, err := i.loader.LoadFile(ctx, root, path)
	if err != nil {
		return 0, err
	}
	return i.store.AddChunks(ctx, chunks)
}

// RemoveFile drops the document derived from path.
func (i *Ingestor) RemoveFile(ctx context.Context, root, path string) error {
	rel, err := loader.RelativePath(root, path)
	if err != nil {
		return err
	}
	return i.store.DeleteDocument(ctx, loader.DocumentID(rel))
}
