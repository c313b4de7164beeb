package rag

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/metrics"
	"mapleportal/internal/vectorstore"
)

var tracer = otel.Tracer("mapleportal/rag")

// ScoredChunk is a search hit with similarity = 1 - cosine distance.
type ScoredChunk struct {
	Chunk      vectorstore.Chunk
	Similarity float64
}

// VectorStore embeds and indexes chunks, and answers similarity queries.
type VectorStore struct {
	store    vectorstore.Store
	embedder ai.Embedder
	logger   *zap.Logger
}

func NewVectorStore(store vectorstore.Store, embedder ai.Embedder, logger *zap.Logger) *VectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorStore{store: store, embedder: embedder, logger: logger.Named("rag.store")}
}

// AddChunks embeds chunks lacking a vector and replaces each touched document
// as a whole. Re-running it with the same input is safe.
func (s *VectorStore) AddChunks(ctx context.Context, chunks []vectorstore.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "rag.add_chunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	var (
		pending []int
		texts   []string
	)
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			pending = append(pending, i)
			texts = append(texts, c.Content)
		}
	}
	if len(texts) > 0 {
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("embed chunks failed: %w", err)
		}
		for j, i := range pending {
			chunks[i].Embedding = vecs[j]
		}
	}

	written := 0
	for _, group := range groupByDocument(chunks) {
		if err := s.store.UpsertDocument(ctx, group.doc, group.chunks); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			return written, fmt.Errorf("upsert document %s failed: %w", group.doc.ID, err)
		}
		written += len(group.chunks)
		metrics.Get().IngestedChunks.Add(float64(len(group.chunks)))
	}
	return written, nil
}

// Search returns up to k chunks with similarity >= minSimilarity, best first.
// Failures are logged and yield an empty result.
func (s *VectorStore) Search(ctx context.Context, query string, k int, contentType string, minSimilarity float64) []ScoredChunk {
	ctx, span := tracer.Start(ctx, "rag.search")
	defer span.End()
	start := time.Now()
	defer func() { metrics.Get().RetrievalSeconds.Observe(time.Since(start).Seconds()) }()

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("embed query failed", zap.Error(err))
		span.RecordError(err)
		return []ScoredChunk{}
	}

	hits, err := s.store.Search(ctx, vec, vectorstore.SearchOptions{
		K:           k,
		ContentType: contentType,
		MaxDistance: 1 - minSimilarity,
	})
	if err != nil {
		s.logger.Warn("vector search failed", zap.Error(err))
		span.RecordError(err)
		return []ScoredChunk{}
	}

	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		sim := 1 - h.Distance
		if sim < minSimilarity {
			continue
		}
		out = append(out, ScoredChunk{Chunk: h.Chunk, Similarity: sim})
	}
	span.SetAttributes(attribute.Int("hits", len(out)))
	return out
}

func (s *VectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.store.DeleteDocument(ctx, documentID)
}

// ClearCollection removes every chunk of the collection.
func (s *VectorStore) ClearCollection(ctx context.Context) error {
	s.logger.Warn("clearing vector collection")
	return s.store.Clear(ctx)
}

func (s *VectorStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *VectorStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type documentGroup struct {
	doc    vectorstore.Document
	chunks []vectorstore.Chunk
}

// groupByDocument keeps first-seen document order and renumbers nothing:
// callers pass each document's chunks with dense indices.
func groupByDocument(chunks []vectorstore.Chunk) []documentGroup {
	index := make(map[string]int)
	var groups []documentGroup
	for _, c := range chunks {
		i, ok := index[c.DocumentID]
		if !ok {
			i = len(groups)
			index[c.DocumentID] = i
			groups = append(groups, documentGroup{doc: documentFromChunk(c)})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}
	return groups
}

func documentFromChunk(c vectorstore.Chunk) vectorstore.Document {
	meta := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		if k == vectorstore.MetaChunkIndex {
			continue
		}
		meta[k] = v
	}
	return vectorstore.Document{
		ID:          c.DocumentID,
		Title:       c.Metadata[vectorstore.MetaTitle],
		Source:      c.Metadata[vectorstore.MetaSource],
		ContentType: c.Metadata[vectorstore.MetaContentType],
		Metadata:    meta,
	}
}
