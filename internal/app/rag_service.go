package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mapleportal/internal/loader"
	"mapleportal/internal/rag"
	"mapleportal/internal/vectorstore"
)

// RAGAdminService backs the knowledge base maintenance endpoints.
type RAGAdminService struct {
	store    *rag.VectorStore
	ingestor *rag.Ingestor
	dataPath string
	logger   *zap.Logger
}

func NewRAGAdminService(store *rag.VectorStore, ingestor *rag.Ingestor, dataPath string, logger *zap.Logger) *RAGAdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGAdminService{
		store:    store,
		ingestor: ingestor,
		dataPath: dataPath,
		logger:   logger.Named("app.rag"),
	}
}

// Reindex empties the collection and reloads the data directory.
func (s *RAGAdminService) Reindex(ctx context.Context) (*rag.IngestResult, error) {
	res, err := s.ingestor.IngestDirectory(ctx, s.dataPath, true)
	if err != nil {
		return nil, fmt.Errorf("reindex %s failed: %w", s.dataPath, err)
	}
	return res, nil
}

func (s *RAGAdminService) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *RAGAdminService) DeleteDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	return s.store.DeleteDocument(ctx, documentID)
}

func (s *RAGAdminService) ClearCollection(ctx context.Context) error {
	return s.store.ClearCollection(ctx)
}

const defaultUploadCategory = "uploads"

type UploadInput struct {
	Category string
	Filename string
	Body     io.Reader
}

type UploadResult struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	Chunks     int    `json:"chunks"`
}

// Upload stores a guide under the data directory and indexes it right away.
// The category becomes the parent directory, which drives content_type.
func (s *RAGAdminService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(input.Filename))
	if name == "." || name == string(filepath.Separator) || !loader.Supported(name) {
		return nil, fmt.Errorf("%w: only .json and .pdf files are accepted", ErrInvalidInput)
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = defaultUploadCategory
	}
	if category != filepath.Base(category) || strings.HasPrefix(category, ".") {
		return nil, fmt.Errorf("%w: invalid category %q", ErrInvalidInput, category)
	}

	dir := filepath.Join(s.dataPath, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create category dir failed: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload file failed: %w", err)
	}
	if _, err := io.Copy(f, input.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload file failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close upload file failed: %w", err)
	}

	n, err := s.ingestor.IngestFile(ctx, s.dataPath, path)
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, loader.ErrIngestion) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, err
	}
	rel, _ := loader.RelativePath(s.dataPath, path)
	s.logger.Info("document uploaded", zap.String("path", rel), zap.Int("chunks", n))
	return &UploadResult{DocumentID: loader.DocumentID(rel), Path: rel, Chunks: n}, nil
}
