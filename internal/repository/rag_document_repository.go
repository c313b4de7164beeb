package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mapleportal/internal/model"
)

type RAGDocumentRepository struct {
	db *gorm.DB
}

func NewRAGDocumentRepository(db *gorm.DB) *RAGDocumentRepository {
	return &RAGDocumentRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *RAGDocumentRepository) WithTx(tx *gorm.DB) *RAGDocumentRepository {
	return &RAGDocumentRepository{db: tx}
}

func (r *RAGDocumentRepository) Create(ctx context.Context, doc *model.RAGDocument) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create rag document failed: %w", err)
	}
	return nil
}

func (r *RAGDocumentRepository) GetByID(ctx context.Context, id string) (*model.RAGDocument, error) {
	var doc model.RAGDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rag document failed: %w", err)
	}
	return &doc, nil
}

func (r *RAGDocumentRepository) DeleteByID(ctx context.Context, collection, id string) error {
	if err := r.db.WithContext(ctx).
		Where("id = ? AND collection = ?", id, collection).
		Delete(&model.RAGDocument{}).Error; err != nil {
		return fmt.Errorf("delete rag document failed: %w", err)
	}
	return nil
}

func (r *RAGDocumentRepository) DeleteByCollection(ctx context.Context, collection string) error {
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Delete(&model.RAGDocument{}).Error; err != nil {
		return fmt.Errorf("delete rag documents by collection failed: %w", err)
	}
	return nil
}

func (r *RAGDocumentRepository) CountByCollection(ctx context.Context, collection string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.RAGDocument{}).Where("collection = ?", collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count rag documents failed: %w", err)
	}
	return n, nil
}

// IDsByCollection is a subquery selecting the document ids of a collection.
func (r *RAGDocumentRepository) IDsByCollection(collection string) *gorm.DB {
	return r.db.Model(&model.RAGDocument{}).Select("id").Where("collection = ?", collection)
}
