package ai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/config"
)

type recordingBackend struct {
	batches [][]string
}

func (b *recordingBackend) embedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 2, 3}, nil
}

func (b *recordingBackend) embedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.batches = append(b.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, -4}
	}
	return out, nil
}

func (b *recordingBackend) dimension() int { return 3 }
func (b *recordingBackend) close() error   { return nil }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestEmbedderReturnsUnitVectors(t *testing.T) {
	e := newNormalizingEmbedder(&recordingBackend{}, 2, zap.NewNop())

	q, err := e.EmbedQuery(context.Background(), "메이플")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(q), 1e-5)

	docs, err := e.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, docs, 5)
	for _, d := range docs {
		assert.InDelta(t, 1.0, norm(d), 1e-5)
	}
}

func TestEmbedDocumentsBatches(t *testing.T) {
	backend := &recordingBackend{}
	e := newNormalizingEmbedder(backend, 2, zap.NewNop())

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, backend.batches)
}

func TestEmbedderRejectsEmptyInput(t *testing.T) {
	e := newNormalizingEmbedder(&recordingBackend{}, 0, nil)

	_, err := e.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.EmbedDocuments(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 2}},
				{"index": 0, "embedding": []float32{3, 0}},
			},
		})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Embed.BaseURL = srv.URL + "/v1"
	cfg.Embed.Dimension = 2
	e, err := NewEmbedder(cfg, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, e.Dimension())
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Embed.Provider = "word2vec"
	_, err := NewEmbedder(cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrEmbedderConfig)
}
