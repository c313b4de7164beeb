package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/model"
)

type recordingStore struct {
	saved []model.Message
}

func (s *recordingStore) Create(_ context.Context, m *model.Message) error {
	s.saved = append(s.saved, *m)
	return nil
}

func TestHandleStoresMessage(t *testing.T) {
	store := &recordingStore{}
	w := NewMessagePersistWorker(nil, store, "q", zap.NewNop())

	err := w.Handle(context.Background(), []byte(`{"id":7,"thread_id":"s1","role":"user","content":"안녕","route":"chat"}`))
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Zero(t, store.saved[0].ID)
	assert.Equal(t, "s1", store.saved[0].ThreadID)
	assert.Equal(t, "안녕", store.saved[0].Content)
}

func TestHandleRejectsBadPayload(t *testing.T) {
	store := &recordingStore{}
	w := NewMessagePersistWorker(nil, store, "q", zap.NewNop())

	assert.Error(t, w.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, w.Handle(context.Background(), []byte(`{"content":"orphan"}`)))
	assert.Empty(t, store.saved)
}

type recordingThreads struct {
	touched []string
	err     error
}

func (r *recordingThreads) Touch(_ context.Context, m *model.Message) error {
	r.touched = append(r.touched, m.ThreadID+"/"+m.Role)
	return r.err
}

func TestHandleTouchesThread(t *testing.T) {
	store := &recordingStore{}
	threads := &recordingThreads{}
	w := NewMessagePersistWorker(nil, store, "q", zap.NewNop()).WithThreads(threads)

	require.NoError(t, w.Handle(context.Background(), []byte(`{"thread_id":"s1","role":"user","content":"안녕"}`)))
	require.NoError(t, w.Handle(context.Background(), []byte(`{"thread_id":"s1","role":"assistant","content":"반갑담!"}`)))
	assert.Equal(t, []string{"s1/user", "s1/assistant"}, threads.touched)
}

func TestThreadFailureDoesNotFailDelivery(t *testing.T) {
	store := &recordingStore{}
	threads := &recordingThreads{err: errors.New("db down")}
	w := NewMessagePersistWorker(nil, store, "q", zap.NewNop()).WithThreads(threads)

	require.NoError(t, w.Handle(context.Background(), []byte(`{"thread_id":"s1","role":"user","content":"안녕"}`)))
	assert.Len(t, store.saved, 1)
}
