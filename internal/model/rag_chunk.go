package model

import (
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// RAGChunk stores a text chunk and its embedding for retrieval.
// Embedding is stored as JSON array of float32 for portability.
type RAGChunk struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	DocumentID string            `gorm:"size:36;not null;uniqueIndex:idx_rag_chunks_doc_index,priority:1" json:"document_id"`
	ChunkIndex int               `gorm:"not null;uniqueIndex:idx_rag_chunks_doc_index,priority:2" json:"chunk_index"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	Embedding  string            `gorm:"type:longtext" json:"-"` // JSON array of float32
	CreatedAt  time.Time         `json:"created_at"`

	Document *RAGDocument `gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *RAGChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *RAGChunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = ""
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}

// PGChunk is the pgvector flavour of RAGChunk. Its table is created by the
// pgvector store because the column width depends on the embedder.
type PGChunk struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	DocumentID string            `gorm:"size:36;not null" json:"document_id"`
	ChunkIndex int               `gorm:"not null" json:"chunk_index"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	Embedding  *pgvector.Vector  `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (PGChunk) TableName() string { return "rag_chunks" }
