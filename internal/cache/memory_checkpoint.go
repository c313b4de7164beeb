package cache

import (
	"context"
	"sync"
	"time"
)

type memoryThread struct {
	// busy is set while a turn holds the thread; guarded by the store mutex.
	busy bool
	cp   *Checkpoint
}

// MemoryCheckpointStore is a single-process store: a map plus a per-thread
// busy flag. A thread is never expired while a turn holds it, and its entry
// is dropped once it has neither a checkpoint nor a turn.
type MemoryCheckpointStore struct {
	mu      sync.Mutex
	threads map[string]*memoryThread
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCheckpointStore returns a store whose idle threads expire after
// ttl; ttl <= 0 keeps them forever.
func NewMemoryCheckpointStore(ttl time.Duration) *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		threads: make(map[string]*memoryThread),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryCheckpointStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.cp == nil {
		return nil, nil
	}
	if s.expired(t) {
		delete(s.threads, threadID)
		return nil, nil
	}
	return cloneCheckpoint(t.cp), nil
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[cp.ThreadID]
	if ok && s.expired(t) {
		t.cp = nil
	}
	var current int64
	if ok && t.cp != nil {
		current = t.cp.Version
	}
	if current != cp.Version {
		return ErrCheckpointConflict
	}
	if !ok {
		t = &memoryThread{}
		s.threads[cp.ThreadID] = t
	}
	cp.Version++
	cp.UpdatedAt = s.now()
	t.cp = cloneCheckpoint(cp)
	return nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	t.cp = nil
	s.dropIdle(threadID, t)
	return nil
}

func (s *MemoryCheckpointStore) Lock(_ context.Context, threadID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		t = &memoryThread{}
		s.threads[threadID] = t
	}
	if t.busy {
		return nil, ErrSessionBusy
	}
	t.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			t.busy = false
			if t.cp != nil && s.expired(t) {
				t.cp = nil
			}
			s.dropIdle(threadID, t)
		})
	}, nil
}

// Len reports the number of live threads.
func (s *MemoryCheckpointStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.threads {
		if t.cp != nil && !s.expired(t) {
			n++
		}
	}
	return n
}

// dropIdle removes t from the map when nothing refers to it any more.
// The caller holds s.mu.
func (s *MemoryCheckpointStore) dropIdle(threadID string, t *memoryThread) {
	if t.busy || t.cp != nil {
		return
	}
	if s.threads[threadID] == t {
		delete(s.threads, threadID)
	}
}

func (s *MemoryCheckpointStore) expired(t *memoryThread) bool {
	if t.busy || t.cp == nil || s.ttl <= 0 {
		return false
	}
	return s.now().Sub(t.cp.UpdatedAt) > s.ttl
}
