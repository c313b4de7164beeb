package vectorstore

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mapleportal/internal/model"
	"mapleportal/internal/repository"
)

// PGVectorStore delegates nearest-neighbour search to Postgres through an
// HNSW cosine index.
type PGVectorStore struct {
	db         *gorm.DB
	collection string
	docs       *repository.RAGDocumentRepository
	chunks     *repository.PGChunkRepository
	logger     *zap.Logger
	closeFn    func() error
}

func NewPGVectorStore(ctx context.Context, db *gorm.DB, collection string, dimension int, logger *zap.Logger, closeFn func() error) (*PGVectorStore, error) {
	if dimension <= 0 {
		return nil, ErrDimensionMismatch
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.RAGDocument{}); err != nil {
		return nil, unavailable("migrate rag_documents", err)
	}
	chunks := repository.NewPGChunkRepository(db)
	if err := chunks.Migrate(ctx, dimension); err != nil {
		return nil, unavailable("migrate rag_chunks", err)
	}
	return &PGVectorStore{
		db:         db,
		collection: collection,
		docs:       repository.NewRAGDocumentRepository(db),
		chunks:     chunks,
		logger:     logger.Named("pgvector"),
		closeFn:    closeFn,
	}, nil
}

func (s *PGVectorStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateChunks(doc, chunks); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "pgvector.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	rows := make([]model.PGChunk, 0, len(chunks))
	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		rows = append(rows, model.PGChunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Metadata:   toJSONMap(chunkMetadata(doc, c)),
			Embedding:  &vec,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs := s.docs.WithTx(tx)
		// chunks go with the document through ON DELETE CASCADE
		if err := docs.DeleteByID(ctx, s.collection, doc.ID); err != nil {
			return err
		}
		if err := docs.Create(ctx, toDocumentRow(s.collection, doc)); err != nil {
			return err
		}
		return s.chunks.WithTx(tx).CreateBatch(ctx, rows)
	})
	if err != nil {
		return unavailable("upsert pg document", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "pgvector.search")
	defer span.End()

	rows, err := s.chunks.Nearest(ctx, s.collection, vec, normalizeK(opts.K), opts.ContentType)
	if err != nil {
		return nil, unavailable("pgvector search", err)
	}
	return pgHits(rows, opts.MaxDistance), nil
}

// pgHits keeps the nearest-first order of rows and stops at the first row
// beyond maxDistance.
func pgHits(rows []repository.PGChunkHit, maxDistance float64) []Hit {
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		if r.Distance > maxDistance {
			break
		}
		hits = append(hits, Hit{
			Chunk: Chunk{
				ID:         ChunkID(r.DocumentID, r.ChunkIndex),
				DocumentID: r.DocumentID,
				Index:      r.ChunkIndex,
				Content:    r.Content,
				Metadata:   fromJSONMap(r.Metadata),
			},
			Distance: r.Distance,
		})
	}
	return hits
}

func (s *PGVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.docs.DeleteByID(ctx, s.collection, documentID); err != nil {
		return unavailable("delete pg document", err)
	}
	return nil
}

func (s *PGVectorStore) Clear(ctx context.Context) error {
	if err := s.docs.DeleteByCollection(ctx, s.collection); err != nil {
		return unavailable("clear pg collection", err)
	}
	return nil
}

func (s *PGVectorStore) Stats(ctx context.Context) (Stats, error) {
	docs, err := s.docs.CountByCollection(ctx, s.collection)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	total, embedded, err := s.chunks.Counts(ctx, s.docs.IDsByCollection(s.collection))
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{Documents: docs, TotalChunks: total, ChunksWithEmbedding: embedded}, nil
}

func (s *PGVectorStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("postgres handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

func (s *PGVectorStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
