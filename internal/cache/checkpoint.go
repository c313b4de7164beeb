package cache

import (
	"context"
	"errors"
	"time"

	"mapleportal/internal/ai"
)

var (
	// ErrSessionBusy means another turn on the same thread is in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrCheckpointConflict means the checkpoint changed since it was loaded.
	ErrCheckpointConflict = errors.New("checkpoint version conflict")
)

// Checkpoint is the persisted state of one conversation thread.
type Checkpoint struct {
	ThreadID  string           `json:"thread_id"`
	Messages  []ai.ChatMessage `json:"messages"`
	Query     string           `json:"query"`
	Version   int64            `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// CheckpointStore keeps thread state between requests. Save succeeds only
// when cp.Version matches the stored version (0 for a new thread) and bumps it.
type CheckpointStore interface {
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, threadID string) error
	// Lock reserves the thread for one turn and returns its release func.
	// It never waits: a held lock yields ErrSessionBusy. A held thread does
	// not expire.
	Lock(ctx context.Context, threadID string) (func(), error)
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Messages = append([]ai.ChatMessage(nil), cp.Messages...)
	return &out
}
