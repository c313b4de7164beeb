package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mapleportal/internal/model"
)

// RAGChunkRepository serves the MySQL store, where embeddings are JSON text.
type RAGChunkRepository struct {
	db *gorm.DB
}

func NewRAGChunkRepository(db *gorm.DB) *RAGChunkRepository {
	return &RAGChunkRepository{db: db}
}

func (r *RAGChunkRepository) WithTx(tx *gorm.DB) *RAGChunkRepository {
	return &RAGChunkRepository{db: tx}
}

func (r *RAGChunkRepository) CreateBatch(ctx context.Context, chunks []model.RAGChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&chunks, 100).Error; err != nil {
		return fmt.Errorf("create rag chunks batch failed: %w", err)
	}
	return nil
}

// ListForSearch returns every embedded chunk of a collection in insertion
// order, optionally restricted to one content type.
func (r *RAGChunkRepository) ListForSearch(ctx context.Context, collection, contentType string) ([]model.RAGChunk, error) {
	q := r.db.WithContext(ctx).
		Joins("JOIN rag_documents ON rag_documents.id = rag_chunks.document_id").
		Where("rag_documents.collection = ?", collection).
		Where("rag_chunks.embedding IS NOT NULL AND rag_chunks.embedding <> ''")
	if contentType != "" {
		q = q.Where("rag_documents.content_type = ?", contentType)
	}

	var chunks []model.RAGChunk
	if err := q.Order("rag_chunks.id ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list rag chunks for search failed: %w", err)
	}
	return chunks, nil
}

func (r *RAGChunkRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.RAGChunk{}).Error; err != nil {
		return fmt.Errorf("delete rag chunks by document failed: %w", err)
	}
	return nil
}

// DeleteByDocuments removes chunks whose document is selected by ids, a subquery.
func (r *RAGChunkRepository) DeleteByDocuments(ctx context.Context, ids *gorm.DB) error {
	if err := r.db.WithContext(ctx).Where("document_id IN (?)", ids).Delete(&model.RAGChunk{}).Error; err != nil {
		return fmt.Errorf("delete rag chunks by documents failed: %w", err)
	}
	return nil
}

// Counts returns the number of chunks and of chunks carrying an embedding.
func (r *RAGChunkRepository) Counts(ctx context.Context, ids *gorm.DB) (total, embedded int64, err error) {
	base := r.db.WithContext(ctx).Model(&model.RAGChunk{}).Where("document_id IN (?)", ids)
	if err = base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count rag chunks failed: %w", err)
	}
	if err = base.Session(&gorm.Session{}).Where("embedding IS NOT NULL AND embedding <> ''").Count(&embedded).Error; err != nil {
		return 0, 0, fmt.Errorf("count embedded rag chunks failed: %w", err)
	}
	return total, embedded, nil
}
