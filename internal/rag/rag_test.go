package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/loader"
	"mapleportal/internal/metrics"
	"mapleportal/internal/vectorstore"
)

// keywordEmbedder maps text onto axes by keyword so similarities are exact.
type keywordEmbedder struct {
	queries int
	fail    bool
}

var axes = []string{"크리스마스", "보스", "스킬"}

func (e *keywordEmbedder) vec(text string) []float32 {
	v := make([]float32, len(axes)+1)
	hit := false
	for i, a := range axes {
		if strings.Contains(text, a) {
			v[i] = 1
			hit = true
		}
	}
	if !hit {
		v[len(axes)] = 1
	}
	return ai.Normalize(v)
}

func (e *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.queries++
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return e.vec(text), nil
}

func (e *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int { return len(axes) + 1 }
func (e *keywordEmbedder) Close() error   { return nil }

func chunk(docID string, idx int, title, content string) vectorstore.Chunk {
	return vectorstore.Chunk{
		DocumentID: docID,
		Index:      idx,
		Content:    content,
		Metadata: map[string]string{
			vectorstore.MetaTitle:       title,
			vectorstore.MetaSource:      docID + ".json",
			vectorstore.MetaCategory:    "events",
			vectorstore.MetaContentType: "notice",
		},
	}
}

func newStore(t *testing.T) (*VectorStore, *keywordEmbedder) {
	t.Helper()
	emb := &keywordEmbedder{}
	return NewVectorStore(vectorstore.NewMemoryStore(), emb, zap.NewNop()), emb
}

func TestAddChunksGroupsByDocumentAndEmbeds(t *testing.T) {
	s, _ := newStore(t)
	before := testutil.ToFloat64(metrics.Get().IngestedChunks)

	n, err := s.AddChunks(context.Background(), []vectorstore.Chunk{
		chunk("xmas", 0, "크리스마스 이벤트", "크리스마스 이벤트는 12월 25일까지"),
		chunk("xmas", 1, "크리스마스 이벤트", "보상은 크리스마스 모자"),
		chunk("boss", 0, "보스 가이드", "보스 패턴 정리"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.Get().IngestedChunks)-before, 1e-9)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Documents)
	assert.EqualValues(t, 3, stats.TotalChunks)
	assert.EqualValues(t, 3, stats.ChunksWithEmbedding)

	// Re-adding the same document replaces it.
	_, err = s.AddChunks(context.Background(), []vectorstore.Chunk{chunk("xmas", 0, "크리스마스 이벤트", "크리스마스")})
	require.NoError(t, err)
	stats, err = s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalChunks)
}

func TestSearchSimilarityAndThreshold(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.AddChunks(context.Background(), []vectorstore.Chunk{
		chunk("xmas", 0, "크리스마스 이벤트", "크리스마스 이벤트"),
		chunk("mix", 0, "크리스마스 보스", "크리스마스 보스"),
		chunk("skill", 0, "스킬", "스킬 트리"),
	})
	require.NoError(t, err)

	hits := s.Search(context.Background(), "크리스마스", 3, "", -1)
	require.Len(t, hits, 3)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
	assert.InDelta(t, 0.0, hits[2].Similarity, 1e-6)

	hits = s.Search(context.Background(), "크리스마스", 3, "", 0.5)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, 0.5)
	}
}

func TestSearchDegradesToEmpty(t *testing.T) {
	s, emb := newStore(t)
	emb.fail = true
	hits := s.Search(context.Background(), "크리스마스", 3, "", 0)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestRetrieveBlankQuerySkipsStore(t *testing.T) {
	s, emb := newStore(t)
	r := NewRetriever(s, 3)

	out, err := r.Retrieve(context.Background(), "   ", RetrieveOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, emb.queries)
}

func TestRetrieveMapsMetadata(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.AddChunks(context.Background(), []vectorstore.Chunk{
		chunk("xmas", 0, "크리스마스 이벤트", "크리스마스 이벤트는 12월 25일까지 진행된담."),
	})
	require.NoError(t, err)

	out, err := NewRetriever(s, 3).Retrieve(context.Background(), "크리스마스 이벤트 기간", RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "크리스마스 이벤트", out[0].Title)
	assert.Equal(t, "events", out[0].Category)
	assert.Equal(t, "notice", out[0].ContentType)
	assert.Equal(t, 0, out[0].ChunkIndex)
	assert.InDelta(t, 1.0, out[0].Similarity, 1e-6)
}

func TestRetrieveFiltersContentType(t *testing.T) {
	s, _ := newStore(t)
	guide := chunk("guide", 0, "크리스마스 가이드", "크리스마스")
	guide.Metadata[vectorstore.MetaContentType] = "guide"
	_, err := s.AddChunks(context.Background(), []vectorstore.Chunk{chunk("xmas", 0, "크리스마스", "크리스마스"), guide})
	require.NoError(t, err)

	out, err := NewRetriever(s, 3).Retrieve(context.Background(), "크리스마스", RetrieveOptions{ContentType: "guide"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "크리스마스 가이드", out[0].Title)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	out := FormatContext([]RetrievedChunk{
		{Title: "크리스마스 이벤트", Category: "events", Source: "data/events/xmas.json", Link: "https://maple.example/xmas", Content: "12월 25일까지"},
		{Title: "보스", Category: "guides", Content: "패턴"},
	})
	want := "## [문서 1] 크리스마스 이벤트\n" +
		"- 카테고리: events\n" +
		"- 출처: data/events/xmas.json\n" +
		"- 링크: https://maple.example/xmas\n" +
		"**내용**:\n12월 25일까지\n---\n\n" +
		"## [문서 2] 보스\n" +
		"- 카테고리: guides\n" +
		"**내용**:\n패턴\n---"
	assert.Equal(t, want, out)
}

func TestIngestDirectoryReindex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "notices")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xmas.json"),
		[]byte(`{"title":"크리스마스 이벤트","period":"12월 25일까지"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0o644))

	s, _ := newStore(t)
	ing := NewIngestor(loader.New(loader.Options{}, zap.NewNop()), s, zap.NewNop())

	res, err := ing.IngestDirectory(context.Background(), root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	res, err = ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)
	assert.True(t, res.Reset)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Documents)

	require.NoError(t, ing.RemoveFile(context.Background(), root, filepath.Join(dir, "xmas.json")))
	stats, err = s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Documents)
}
