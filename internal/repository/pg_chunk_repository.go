package repository

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"mapleportal/internal/model"
)

// PGChunkRepository serves the Postgres store; nearest-neighbour search is
// done by pgvector.
type PGChunkRepository struct {
	db *gorm.DB
}

func NewPGChunkRepository(db *gorm.DB) *PGChunkRepository {
	return &PGChunkRepository{db: db}
}

func (r *PGChunkRepository) WithTx(tx *gorm.DB) *PGChunkRepository {
	return &PGChunkRepository{db: tx}
}

// Migrate creates the chunk table with a fixed vector width plus its HNSW
// cosine index.
func (r *PGChunkRepository) Migrate(ctx context.Context, dimension int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id VARCHAR(36) NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ,
			UNIQUE (document_id, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range stmts {
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate pg chunks failed: %w", err)
		}
	}
	return nil
}

func (r *PGChunkRepository) CreateBatch(ctx context.Context, chunks []model.PGChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&chunks, 100).Error; err != nil {
		return fmt.Errorf("create pg chunks batch failed: %w", err)
	}
	return nil
}

type PGChunkHit struct {
	model.PGChunk
	Distance float64
}

// Nearest returns up to k chunks ordered by cosine distance, then by id.
// The distance is only ordered on so the hnsw index serves the scan; callers
// apply any cutoff to the returned rows.
func (r *PGChunkRepository) Nearest(ctx context.Context, collection string, vec []float32, k int, contentType string) ([]PGChunkHit, error) {
	q := pgvector.NewVector(vec)
	tx := r.db.WithContext(ctx).
		Table("rag_chunks").
		Select("rag_chunks.*, rag_chunks.embedding <=> ? AS distance", q).
		Joins("JOIN rag_documents ON rag_documents.id = rag_chunks.document_id").
		Where("rag_documents.collection = ?", collection).
		Where("rag_chunks.embedding IS NOT NULL")
	if contentType != "" {
		tx = tx.Where("rag_documents.content_type = ?", contentType)
	}

	var hits []PGChunkHit
	if err := tx.Order("distance ASC, rag_chunks.id ASC").Limit(k).Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("pgvector nearest failed: %w", err)
	}
	return hits, nil
}

func (r *PGChunkRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.PGChunk{}).Error; err != nil {
		return fmt.Errorf("delete pg chunks by document failed: %w", err)
	}
	return nil
}

func (r *PGChunkRepository) Counts(ctx context.Context, ids *gorm.DB) (total, embedded int64, err error) {
	base := r.db.WithContext(ctx).Model(&model.PGChunk{}).Where("document_id IN (?)", ids)
	if err = base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count pg chunks failed: %w", err)
	}
	if err = base.Session(&gorm.Session{}).Where("embedding IS NOT NULL").Count(&embedded).Error; err != nil {
		return 0, 0, fmt.Errorf("count embedded pg chunks failed: %w", err)
	}
	return total, embedded, nil
}
