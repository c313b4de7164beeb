// Package vectorstore holds the nearest-neighbour backends behind the RAG
// knowledge base. Every backend ranks by cosine distance d = 1 - cos(q, v).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mapleportal/vectorstore")

var (
	ErrStorageUnavailable = errors.New("vector storage unavailable")
	ErrUnsupportedDSN     = errors.New("unsupported vector store dsn")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
)

// NoDistanceCutoff admits every cosine distance.
const NoDistanceCutoff = 2.0

// Metadata keys shared by the loader and the backends.
const (
	MetaDocumentID  = "document_id"
	MetaChunkIndex  = "chunk_index"
	MetaTitle       = "title"
	MetaSource      = "source"
	MetaCategory    = "category"
	MetaContentType = "content_type"
	MetaLink        = "link"
)

type Document struct {
	ID          string
	Title       string
	Source      string
	ContentType string
	Metadata    map[string]string
}

type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

type SearchOptions struct {
	K           int
	ContentType string
	// MaxDistance drops hits farther than this; use NoDistanceCutoff to keep all.
	MaxDistance float64
}

type Hit struct {
	Chunk    Chunk
	Distance float64
}

type Stats struct {
	Documents           int64 `json:"documents"`
	TotalChunks         int64 `json:"total_chunks"`
	ChunksWithEmbedding int64 `json:"chunks_with_embedding"`
}

// Store is a collection-scoped vector index.
type Store interface {
	// UpsertDocument replaces every chunk of doc.
	UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error
	Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

var chunkNamespace = uuid.MustParse("6f1c2b9e-3a57-4c59-9d0e-5b7f8f0c4a21")

// ChunkID is the stable id of chunk index within a document.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return NoDistanceCutoff
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// chunkMetadata merges document level fields into the chunk metadata so that
// a hit can be rendered without a second lookup.
func chunkMetadata(doc Document, c Chunk) map[string]string {
	out := make(map[string]string, len(doc.Metadata)+len(c.Metadata)+6)
	for k, v := range doc.Metadata {
		out[k] = v
	}
	for k, v := range c.Metadata {
		out[k] = v
	}
	out[MetaDocumentID] = doc.ID
	out[MetaChunkIndex] = strconv.Itoa(c.Index)
	if doc.Title != "" {
		out[MetaTitle] = doc.Title
	}
	if doc.Source != "" {
		out[MetaSource] = doc.Source
	}
	if doc.ContentType != "" {
		out[MetaContentType] = doc.ContentType
	}
	return out
}

func validateChunks(doc Document, chunks []Chunk) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d of %s has index %d", i, doc.ID, c.Index)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %d of %s has no embedding", i, doc.ID)
		}
	}
	return nil
}

func normalizeK(k int) int {
	if k <= 0 {
		return 1
	}
	return k
}
