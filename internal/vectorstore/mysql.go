package vectorstore

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mapleportal/internal/model"
	"mapleportal/internal/repository"
)

// MySQLStore keeps embeddings as JSON next to the chunk rows and scores them
// in process. Suitable for knowledge bases of a few tens of thousands chunks.
type MySQLStore struct {
	db         *gorm.DB
	collection string
	docs       *repository.RAGDocumentRepository
	chunks     *repository.RAGChunkRepository
	logger     *zap.Logger
	closeFn    func() error
}

func NewMySQLStore(ctx context.Context, db *gorm.DB, collection string, logger *zap.Logger, closeFn func() error) (*MySQLStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&model.RAGDocument{}, &model.RAGChunk{}); err != nil {
		return nil, unavailable("migrate mysql rag tables", err)
	}
	return &MySQLStore{
		db:         db,
		collection: collection,
		docs:       repository.NewRAGDocumentRepository(db),
		chunks:     repository.NewRAGChunkRepository(db),
		logger:     logger.Named("mysql"),
		closeFn:    closeFn,
	}, nil
}

func (s *MySQLStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if err := validateChunks(doc, chunks); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "mysql.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	rows := make([]model.RAGChunk, 0, len(chunks))
	for _, c := range chunks {
		row := model.RAGChunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Metadata:   toJSONMap(chunkMetadata(doc, c)),
		}
		row.SetEmbedding(c.Embedding)
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs := s.docs.WithTx(tx)
		chunkRepo := s.chunks.WithTx(tx)
		if err := chunkRepo.DeleteByDocumentID(ctx, doc.ID); err != nil {
			return err
		}
		if err := docs.DeleteByID(ctx, s.collection, doc.ID); err != nil {
			return err
		}
		if err := docs.Create(ctx, toDocumentRow(s.collection, doc)); err != nil {
			return err
		}
		return chunkRepo.CreateBatch(ctx, rows)
	})
	if err != nil {
		return unavailable("upsert mysql document", err)
	}
	return nil
}

func (s *MySQLStore) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "mysql.search")
	defer span.End()

	rows, err := s.chunks.ListForSearch(ctx, s.collection, opts.ContentType)
	if err != nil {
		return nil, unavailable("list mysql chunks", err)
	}

	hits := make([]Hit, 0, len(rows))
	for i := range rows {
		d := CosineDistance(vec, rows[i].EmbeddingVector())
		if d > opts.MaxDistance {
			continue
		}
		hits = append(hits, Hit{Chunk: fromChunkRow(&rows[i]), Distance: d})
	}
	// rows arrive in id order, so a stable sort keeps insertion order on ties.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k := normalizeK(opts.K); len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MySQLStore) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.chunks.WithTx(tx).DeleteByDocumentID(ctx, documentID); err != nil {
			return err
		}
		return s.docs.WithTx(tx).DeleteByID(ctx, s.collection, documentID)
	})
	if err != nil {
		return unavailable("delete mysql document", err)
	}
	return nil
}

func (s *MySQLStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs := s.docs.WithTx(tx)
		if err := s.chunks.WithTx(tx).DeleteByDocuments(ctx, docs.IDsByCollection(s.collection)); err != nil {
			return err
		}
		return docs.DeleteByCollection(ctx, s.collection)
	})
	if err != nil {
		return unavailable("clear mysql collection", err)
	}
	return nil
}

func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	docs, err := s.docs.CountByCollection(ctx, s.collection)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	total, embedded, err := s.chunks.Counts(ctx, s.docs.IDsByCollection(s.collection))
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{Documents: docs, TotalChunks: total, ChunksWithEmbedding: embedded}, nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("mysql handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping mysql", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func toJSONMap(m map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromJSONMap(m datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toDocumentRow(collection string, doc Document) *model.RAGDocument {
	return &model.RAGDocument{
		ID:          doc.ID,
		Collection:  collection,
		Title:       doc.Title,
		Source:      doc.Source,
		ContentType: doc.ContentType,
		Metadata:    toJSONMap(doc.Metadata),
	}
}

func fromChunkRow(row *model.RAGChunk) Chunk {
	return Chunk{
		ID:         ChunkID(row.DocumentID, row.ChunkIndex),
		DocumentID: row.DocumentID,
		Index:      row.ChunkIndex,
		Content:    row.Content,
		Metadata:   fromJSONMap(row.Metadata),
	}
}
