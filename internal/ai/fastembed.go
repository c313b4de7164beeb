//go:build cgo

package ai

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// fastEmbed runs an ONNX model in-process.
type fastEmbed struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
	dim   int
}

func newFastEmbed(modelName, cacheDir string) (*fastEmbed, error) {
	model, ok := fastEmbedModels[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: fastembed does not ship %q", ErrEmbedderConfig, modelName)
	}
	if cacheDir == "" {
		cacheDir = "local_cache"
	}
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("init fastembed failed: %w", err)
	}
	return &fastEmbed{model: flag, dim: fastEmbedDimensions[model]}, nil
}

func (f *fastEmbed) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	vec, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("fastembed query failed: %w", err)
	}
	return vec, nil
}

func (f *fastEmbed) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	vecs, err := f.model.PassageEmbed(texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("fastembed passages failed: %w", err)
	}
	return vecs, nil
}

func (f *fastEmbed) dimension() int { return f.dim }

func (f *fastEmbed) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
