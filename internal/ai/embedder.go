package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mapleportal/internal/config"
)

const (
	EmbedProviderOpenAI    = "openai"
	EmbedProviderFastEmbed = "fastembed"

	defaultEmbedBatchSize = 32
)

var (
	ErrInvalidInput   = errors.New("invalid embedding input")
	ErrEmbedderConfig = errors.New("invalid embedder config")
)

// Embedder maps text to unit-length vectors. Query and document embeddings
// share one vector space.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Normalize scales v to unit L2 norm in place. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// embedBackend is what a provider has to implement; batching, validation and
// normalization are handled by normalizingEmbedder.
type embedBackend interface {
	embedQuery(ctx context.Context, text string) ([]float32, error)
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
	dimension() int
	close() error
}

type normalizingEmbedder struct {
	backend   embedBackend
	batchSize int
	logger    *zap.Logger
}

func newNormalizingEmbedder(backend embedBackend, batchSize int, logger *zap.Logger) *normalizingEmbedder {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &normalizingEmbedder{backend: backend, batchSize: batchSize, logger: logger.Named("embedder")}
}

func (e *normalizingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}
	vec, err := e.backend.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(vec), nil
}

func (e *normalizingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts", ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrInvalidInput, i)
		}
	}

	out := make([][]float32, 0, len(texts))
	batches := (len(texts) + e.batchSize - 1) / e.batchSize
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := b * e.batchSize
		end := min(start+e.batchSize, len(texts))

		vecs, err := e.backend.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d/%d failed: %w", b+1, batches, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed batch %d/%d: got %d vectors for %d texts", b+1, batches, len(vecs), end-start)
		}
		for _, v := range vecs {
			out = append(out, Normalize(v))
		}
		if batches > 1 {
			e.logger.Info("embedded batch", zap.Int("batch", b+1), zap.Int("batches", batches), zap.Int("done", end))
		}
	}
	return out, nil
}

func (e *normalizingEmbedder) Dimension() int { return e.backend.dimension() }

func (e *normalizingEmbedder) Close() error { return e.backend.close() }

// NewEmbedder builds the provider selected by cfg.Embed.Provider.
func NewEmbedder(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	var (
		backend embedBackend
		err     error
	)
	switch strings.ToLower(cfg.Embed.Provider) {
	case "", EmbedProviderOpenAI:
		backend, err = newOpenAIEmbedding(EmbeddingConfig{
			BaseURL:   cfg.Embed.BaseURL,
			APIKey:    cfg.Embed.APIKey,
			Model:     cfg.Embed.ModelName,
			Dimension: cfg.Embed.Dimension,
		})
	case EmbedProviderFastEmbed:
		backend, err = newFastEmbed(cfg.Embed.ModelName, cfg.Embed.CacheDir)
	default:
		err = fmt.Errorf("%w: unknown provider %q", ErrEmbedderConfig, cfg.Embed.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newNormalizingEmbedder(backend, cfg.Embed.BatchSize, logger), nil
}

var (
	sharedEmbedderOnce sync.Once
	sharedEmbedder     Embedder
	sharedEmbedderErr  error
)

// SharedEmbedder returns the process-wide embedder, creating it on first call.
// Later calls ignore their arguments.
func SharedEmbedder(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	sharedEmbedderOnce.Do(func() {
		sharedEmbedder, sharedEmbedderErr = NewEmbedder(cfg, logger)
	})
	return sharedEmbedder, sharedEmbedderErr
}
