package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/loader"
)

func TestWatcherFollowsFileChanges(t *testing.T) {
	root := t.TempDir()
	s, _ := newStore(t)
	ing := NewIngestor(loader.New(loader.Options{}, zap.NewNop()), s, zap.NewNop())

	w, err := NewWatcher(ing, root, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	documents := func() int64 {
		stats, err := s.Stats(context.Background())
		require.NoError(t, err)
		return stats.Documents
	}

	dir := filepath.Join(root, "events")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Let the watcher pick up the new directory before writing into it.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(dir, "xmas.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"크리스마스 이벤트","period":"12월 25일까지"}`), 0o644))
	require.Eventually(t, func() bool { return documents() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return documents() == 0 }, 5*time.Second, 20*time.Millisecond)
}
