package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapleportal/internal/model"
)

type fakeArchive struct {
	threads  map[string]model.Thread
	messages map[string][]model.Message
}

func (f *fakeArchive) ListRecent(_ context.Context, limit int) ([]model.Thread, error) {
	var out []model.Thread
	for _, t := range f.threads {
		out = append(out, t)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeArchive) GetByThreadID(_ context.Context, id string) (*model.Thread, error) {
	t, ok := f.threads[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeArchive) ListByThreadID(_ context.Context, id string, _ int) ([]model.Message, error) {
	return f.messages[id], nil
}

type threadDeleter struct{ *fakeArchive }

func (d threadDeleter) DeleteByThreadID(_ context.Context, id string) error {
	delete(d.threads, id)
	return nil
}

type messageDeleter struct{ *fakeArchive }

func (d messageDeleter) DeleteByThreadID(_ context.Context, id string) error {
	delete(d.messages, id)
	return nil
}

func newArchiveRouter(f *fakeArchive) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewArchiveHandler(threadDeleter{f}, messageDeleter{f})
	r := gin.New()
	r.GET("/threads", h.ListThreads)
	r.GET("/threads/:id", h.GetThread)
	r.DELETE("/threads/:id", h.DeleteThread)
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestArchiveThreadLifecycle(t *testing.T) {
	f := &fakeArchive{
		threads: map[string]model.Thread{"s1": {ThreadID: "s1", Title: "안녕", MessageCount: 2}},
		messages: map[string][]model.Message{"s1": {
			{ThreadID: "s1", Role: "user", Content: "안녕"},
			{ThreadID: "s1", Role: "assistant", Content: "반갑담!"},
		}},
	}
	r := newArchiveRouter(f)

	rec := serve(r, http.MethodGet, "/threads?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/threads/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Data struct {
			Thread   model.Thread    `json:"thread"`
			Messages []model.Message `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Data.Thread.MessageCount)
	assert.Len(t, got.Data.Messages, 2)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodDelete, "/threads/s1").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/threads/s1").Code)
	assert.Empty(t, f.messages)
}
