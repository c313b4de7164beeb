package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const metaSeq = "_seq"

// ChromemStore keeps the collection in an embedded chromem-go database,
// persisted under a directory when one is given.
type ChromemStore struct {
	db         *chromem.DB
	name       string
	logger     *zap.Logger
	mu         sync.RWMutex
	collection *chromem.Collection
}

// noEmbed guards against chromem embedding on its own; every chunk reaching
// the store is already embedded.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func NewChromemStore(path string, compress bool, collection string, logger *zap.Logger) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, unavailable("open chromem db", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, unavailable("open chromem collection", err)
	}
	return &ChromemStore{
		db:         db,
		name:       collection,
		logger:     logger.Named("chromem"),
		collection: col,
	}, nil
}

func (s *ChromemStore) col() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

func (s *ChromemStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateChunks(doc, chunks); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "chromem.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	col := s.col()
	if err := col.Delete(ctx, map[string]string{MetaDocumentID: doc.ID}, nil); err != nil {
		return unavailable("delete chromem document", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	base := time.Now().UnixNano()
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		meta := chunkMetadata(doc, c)
		meta[metaSeq] = strconv.FormatInt(base+int64(i), 10)
		id := c.ID
		if id == "" {
			id = ChunkID(doc.ID, c.Index)
		}
		docs = append(docs, chromem.Document{
			ID:        id,
			Metadata:  meta,
			Embedding: c.Embedding,
			Content:   c.Content,
		})
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return unavailable("add chromem documents", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "chromem.search")
	defer span.End()

	col := s.col()
	n := min(normalizeK(opts.K), col.Count())
	if n == 0 {
		return nil, nil
	}
	var where map[string]string
	if opts.ContentType != "" {
		where = map[string]string{MetaContentType: opts.ContentType}
	}

	results, err := col.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, unavailable("query chromem", err)
	}

	hits := make([]Hit, 0, len(results))
	seqs := make(map[string]int64, len(results))
	for _, r := range results {
		d := 1 - float64(r.Similarity)
		if d > opts.MaxDistance {
			continue
		}
		hits = append(hits, Hit{Chunk: chunkFromMetadata(r.ID, r.Content, r.Metadata), Distance: d})
		seqs[r.ID], _ = strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return seqs[hits[i].Chunk.ID] < seqs[hits[j].Chunk.ID]
	})
	return hits, nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.col().Delete(ctx, map[string]string{MetaDocumentID: documentID}, nil); err != nil {
		return unavailable("delete chromem document", err)
	}
	return nil
}

func (s *ChromemStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return unavailable("drop chromem collection", err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, noEmbed)
	if err != nil {
		return unavailable("recreate chromem collection", err)
	}
	s.collection = col
	return nil
}

func (s *ChromemStore) Stats(context.Context) (Stats, error) {
	col := s.col()
	n := int64(col.Count())
	// chromem cannot list documents without a query, so the document count is
	// unknown here.
	return Stats{TotalChunks: n, ChunksWithEmbedding: n}, nil
}

func (s *ChromemStore) Ping(context.Context) error { return nil }

func (s *ChromemStore) Close() error { return nil }

func chunkFromMetadata(id, content string, meta map[string]string) Chunk {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == metaSeq {
			continue
		}
		out[k] = v
	}
	idx, _ := strconv.Atoi(meta[MetaChunkIndex])
	return Chunk{
		ID:         id,
		DocumentID: meta[MetaDocumentID],
		Index:      idx,
		Content:    content,
		Metadata:   out,
	}
}
