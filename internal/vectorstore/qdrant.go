package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	payloadContent = "content"
	payloadSeq     = "seq"
)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStore maps one collection onto a qdrant collection with cosine distance.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *zap.Logger
	seq        atomic.Int64
}

func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: qdrant needs the embedding dimension", ErrDimensionMismatch)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, unavailable("connect qdrant", err)
	}
	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger.Named("qdrant"),
	}
	s.seq.Store(time.Now().UnixNano())
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return unavailable("check qdrant collection", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return unavailable("create qdrant collection", err)
	}
	s.logger.Info("created qdrant collection", zap.String("collection", s.collection), zap.Int("dimension", s.dimension))
	return nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(MetaDocumentID, documentID)}}
}

func (s *QdrantStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateChunks(doc, chunks); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "qdrant.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(c.Embedding), s.dimension)
		}
		payload := make(map[string]any, len(c.Metadata)+8)
		for k, v := range chunkMetadata(doc, c) {
			payload[k] = v
		}
		payload[MetaChunkIndex] = int64(c.Index)
		payload[payloadContent] = c.Content
		payload[payloadSeq] = s.seq.Add(1)

		id := c.ID
		if id == "" {
			id = ChunkID(doc.ID, c.Index)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return unavailable("upsert qdrant points", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "qdrant.search")
	defer span.End()

	limit := uint64(normalizeK(opts.K))
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.MaxDistance < NoDistanceCutoff {
		threshold := float32(1 - opts.MaxDistance)
		req.ScoreThreshold = &threshold
	}
	if opts.ContentType != "" {
		req.Filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(MetaContentType, opts.ContentType)}}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, unavailable("query qdrant", err)
	}

	hits := make([]Hit, 0, len(points))
	seqs := make([]int64, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			Chunk:    chunkFromPayload(p.GetId().GetUuid(), p.GetPayload()),
			Distance: 1 - float64(p.GetScore()),
		})
		seqs = append(seqs, p.GetPayload()[payloadSeq].GetIntegerValue())
	}
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ha, hb := hits[order[a]], hits[order[b]]
		if ha.Distance != hb.Distance {
			return ha.Distance < hb.Distance
		}
		return seqs[order[a]] < seqs[order[b]]
	})
	sorted := make([]Hit, len(hits))
	for i, idx := range order {
		sorted[i] = hits[idx]
	}
	return sorted, nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	}); err != nil {
		return unavailable("delete qdrant points", err)
	}
	return nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return unavailable("drop qdrant collection", err)
	}
	return s.ensureCollection(ctx)
}

func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return Stats{}, unavailable("count qdrant points", err)
	}
	return Stats{TotalChunks: int64(n), ChunksWithEmbedding: int64(n)}, nil
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return unavailable("qdrant health check", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	c := Chunk{ID: id, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadContent:
			c.Content = v.GetStringValue()
		case payloadSeq:
		case MetaChunkIndex:
			c.Index = int(v.GetIntegerValue())
			c.Metadata[k] = strconv.Itoa(c.Index)
		default:
			c.Metadata[k] = v.GetStringValue()
		}
	}
	c.DocumentID = c.Metadata[MetaDocumentID]
	return c
}
