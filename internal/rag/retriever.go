package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mapleportal/internal/vectorstore"
)

const DefaultTopK = 3

type RetrieveOptions struct {
	K             int
	MinSimilarity float64
	ContentType   string
}

// RetrievedChunk is a search hit flattened for prompting and API output.
type RetrievedChunk struct {
	Content     string            `json:"content"`
	Title       string            `json:"title"`
	Source      string            `json:"source"`
	Category    string            `json:"category"`
	ContentType string            `json:"content_type"`
	Link        string            `json:"link,omitempty"`
	Similarity  float64           `json:"similarity"`
	ChunkIndex  int               `json:"chunk_index"`
	Metadata    map[string]string `json:"metadata"`
}

type Retriever struct {
	store *VectorStore
	topK  int
}

func NewRetriever(store *VectorStore, topK int) *Retriever {
	if topK < 1 {
		topK = DefaultTopK
	}
	return &Retriever{store: store, topK: topK}
}

// Retrieve returns the k most similar chunks. A blank query never reaches
// the store.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return []RetrievedChunk{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := opts.K
	if k < 1 {
		k = r.topK
	}

	hits := r.store.Search(ctx, query, k, opts.ContentType, opts.MinSimilarity)
	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, toRetrieved(h))
	}
	return out, nil
}

func toRetrieved(h ScoredChunk) RetrievedChunk {
	meta := h.Chunk.Metadata
	idx := h.Chunk.Index
	if v, err := strconv.Atoi(meta[vectorstore.MetaChunkIndex]); err == nil {
		idx = v
	}
	return RetrievedChunk{
		Content:     h.Chunk.Content,
		Title:       meta[vectorstore.MetaTitle],
		Source:      meta[vectorstore.MetaSource],
		Category:    meta[vectorstore.MetaCategory],
		ContentType: meta[vectorstore.MetaContentType],
		Link:        meta[vectorstore.MetaLink],
		Similarity:  h.Similarity,
		ChunkIndex:  idx,
		Metadata:    meta,
	}
}

// FormatContext renders retrieved chunks as numbered markdown sections.
func FormatContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	sections := make([]string, 0, len(chunks))
	for i, c := range chunks {
		var b strings.Builder
		title := c.Title
		if title == "" {
			title = "제목 없음"
		}
		category := c.Category
		if category == "" {
			category = c.ContentType
		}
		fmt.Fprintf(&b, "## [문서 %d] %s\n", i+1, title)
		fmt.Fprintf(&b, "- 카테고리: %s\n", category)
		if c.Source != "" {
			fmt.Fprintf(&b, "- 출처: %s\n", c.Source)
		}
		if c.Link != "" {
			fmt.Fprintf(&b, "- 링크: %s\n", c.Link)
		}
		fmt.Fprintf(&b, "**내용**:\n%s\n---", c.Content)
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n")
}
