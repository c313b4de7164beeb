package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapleportal/internal/ai"
)

func TestMemoryCheckpointRoundTrip(t *testing.T) {
	s := NewMemoryCheckpointStore(0)
	ctx := context.Background()

	cp, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp = &Checkpoint{ThreadID: "s1", Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "안녕"}}}
	require.NoError(t, s.Save(ctx, cp))
	assert.EqualValues(t, 1, cp.Version)

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.Messages, got.Messages)

	// The stored copy is isolated from the caller's slice.
	got.Messages[0].Content = "changed"
	again, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "안녕", again.Messages[0].Content)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "s1"))
	cp, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestMemoryCheckpointVersionConflict(t *testing.T) {
	s := NewMemoryCheckpointStore(0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "s1"}))

	stale := &Checkpoint{ThreadID: "s1"}
	assert.ErrorIs(t, s.Save(ctx, stale), ErrCheckpointConflict)

	fresh, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, fresh))
	assert.EqualValues(t, 2, fresh.Version)
}

func TestMemoryCheckpointLockRejectsConcurrentTurn(t *testing.T) {
	s := NewMemoryCheckpointStore(0)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "s1")
	require.NoError(t, err)

	_, err = s.Lock(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionBusy)

	other, err := s.Lock(ctx, "s2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := s.Lock(ctx, "s1")
	require.NoError(t, err)
	again()
}

func TestMemoryCheckpointExpires(t *testing.T) {
	s := NewMemoryCheckpointStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "s1"}))
	now = now.Add(2 * time.Minute)

	cp, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, cp)
	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "s1"}))
}

func TestMemoryCheckpointDoesNotExpireDuringTurn(t *testing.T) {
	s := NewMemoryCheckpointStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "s1"}))

	unlock, err := s.Lock(ctx, "s1")
	require.NoError(t, err)
	cp, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, cp)

	// A long generation outlives the TTL while a reader polls the session.
	now = now.Add(2 * time.Minute)
	polled, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, polled)
	assert.Equal(t, 1, s.Len())

	cp.Messages = append(cp.Messages, ai.ChatMessage{Role: ai.RoleUser, Content: "안녕"})
	require.NoError(t, s.Save(ctx, cp))
	assert.EqualValues(t, 2, cp.Version)
	unlock()

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 1)
}

func TestMemoryCheckpointExpiredAfterTurnWithoutSave(t *testing.T) {
	s := NewMemoryCheckpointStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "s1"}))
	unlock, err := s.Lock(ctx, "s1")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	unlock()

	cp, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Empty(t, s.threads)
}

func TestMemoryCheckpointDropsIdleThreads(t *testing.T) {
	s := NewMemoryCheckpointStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	// Lock without save, as a failed turn does.
	unlock, err := s.Lock(ctx, "failed")
	require.NoError(t, err)
	unlock()

	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "deleted"}))
	require.NoError(t, s.Delete(ctx, "deleted"))

	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "expired"}))
	now = now.Add(2 * time.Minute)
	cp, err := s.Load(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.Empty(t, s.threads)

	// Deleting under the turn lock keeps the entry until the lock is released.
	require.NoError(t, s.Save(ctx, &Checkpoint{ThreadID: "cleared"}))
	unlock, err = s.Lock(ctx, "cleared")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "cleared"))
	_, err = s.Lock(ctx, "cleared")
	assert.ErrorIs(t, err, ErrSessionBusy)
	unlock()
	assert.Empty(t, s.threads)
}

func TestRedisHoldTTLCoversTurnLock(t *testing.T) {
	assert.Equal(t, defaultTurnLockTTL, NewRedisCheckpointStore(nil, time.Minute).holdTTL())
	assert.Equal(t, 24*time.Hour, NewRedisCheckpointStore(nil, 24*time.Hour).holdTTL())
}
