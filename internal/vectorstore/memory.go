package vectorstore

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	seq   uint64
	chunk Chunk
}

// MemoryStore is an exact brute-force index held in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	docs   map[string]Document
	chunks map[string][]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]Document),
		chunks: make(map[string][]memoryEntry),
	}
}

func (m *MemoryStore) UpsertDocument(_ context.Context, doc Document, chunks []Chunk) error {
	if err := validateChunks(doc, chunks); err != nil {
		return err
	}
	entries := make([]memoryEntry, 0, len(chunks))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.seq++
		c.DocumentID = doc.ID
		if c.ID == "" {
			c.ID = ChunkID(doc.ID, c.Index)
		}
		c.Metadata = chunkMetadata(doc, c)
		c.Embedding = append([]float32(nil), c.Embedding...)
		entries = append(entries, memoryEntry{seq: m.seq, chunk: c})
	}
	m.docs[doc.ID] = doc
	m.chunks[doc.ID] = entries
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type scored struct {
		seq uint64
		hit Hit
	}

	m.mu.RLock()
	var candidates []scored
	for docID, entries := range m.chunks {
		if opts.ContentType != "" && m.docs[docID].ContentType != opts.ContentType {
			continue
		}
		for _, e := range entries {
			d := CosineDistance(vec, e.chunk.Embedding)
			if d > opts.MaxDistance {
				continue
			}
			candidates = append(candidates, scored{seq: e.seq, hit: Hit{Chunk: e.chunk, Distance: d}})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Distance != candidates[j].hit.Distance {
			return candidates[i].hit.Distance < candidates[j].hit.Distance
		}
		return candidates[i].seq < candidates[j].seq
	})

	k := min(normalizeK(opts.K), len(candidates))
	hits := make([]Hit, 0, k)
	for _, c := range candidates[:k] {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentID)
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]Document)
	m.chunks = make(map[string][]memoryEntry)
	return nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Documents: int64(len(m.docs))}
	for _, entries := range m.chunks {
		for _, e := range entries {
			s.TotalChunks++
			if len(e.chunk.Embedding) > 0 {
				s.ChunksWithEmbedding++
			}
		}
	}
	return s, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
