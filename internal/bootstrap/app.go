package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mapleportal/internal/ai"
	"mapleportal/internal/app"
	"mapleportal/internal/cache"
	"mapleportal/internal/chatbot"
	"mapleportal/internal/config"
	"mapleportal/internal/loader"
	"mapleportal/internal/model"
	mysqlClient "mapleportal/internal/platform/mysql"
	rabbitmqClient "mapleportal/internal/platform/rabbitmq"
	redisClient "mapleportal/internal/platform/redis"
	"mapleportal/internal/rag"
	"mapleportal/internal/repository"
	"mapleportal/internal/vectorstore"
	"mapleportal/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Embedder  ai.Embedder
	LLM       ai.LLM
	Store     vectorstore.Store
	Vectors   *rag.VectorStore
	Retriever *rag.Retriever
	Ingestor  *rag.Ingestor

	Checkpoints   cache.CheckpointStore
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Publisher     *rabbitmqClient.MessagePublisher
	ArchiveDB     *gorm.DB
	Messages      *repository.MessageRepository
	Threads       *repository.ThreadRepository
	MessageWorker *worker.MessagePersistWorker

	Chat     *app.ChatService
	RAGAdmin *app.RAGAdminService

	StartedAt time.Time
}

// NewKnowledgeBase opens the embedder and the vector store, which is all the
// ingestion tooling needs.
func NewKnowledgeBase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	embedder, err := ai.SharedEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init embedder failed: %w", err)
	}
	a.Embedder = embedder

	store, err := vectorstore.Open(ctx, cfg.Vector.DSN, cfg.Vector.Collection, embedder.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("open vector store failed: %w", err)
	}
	a.Store = store
	a.Vectors = rag.NewVectorStore(store, embedder, logger)
	a.Retriever = rag.NewRetriever(a.Vectors, cfg.RAG.TopK)
	a.Ingestor = rag.NewIngestor(loader.New(loader.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		SkipKeys:     cfg.RAG.SkipKeys,
	}, logger), a.Vectors, logger)
	a.RAGAdmin = app.NewRAGAdminService(a.Vectors, a.Ingestor, cfg.RAG.DataPath, logger)

	logger.Info("knowledge base ready",
		zap.String("vector_dsn_scheme", scheme(cfg.Vector.DSN)),
		zap.String("collection", cfg.Vector.Collection),
		zap.Int("dimension", embedder.Dimension()),
	)
	return a, nil
}

// New wires the whole chat server.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a, err := NewKnowledgeBase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.initServer(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initServer(ctx context.Context) error {
	cfg := a.Config

	llm, err := ai.SharedLLM(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("init llm failed: %w", err)
	}
	a.LLM = llm

	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		a.Redis, err = redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Checkpoints = cache.NewRedisCheckpointStore(a.Redis, time.Duration(cfg.Session.TTLSeconds)*time.Second)
	default:
		a.Checkpoints = cache.NewMemoryCheckpointStore(time.Duration(cfg.Session.TTLSeconds) * time.Second)
	}

	if err := a.initArchive(ctx); err != nil {
		return err
	}

	graph, err := chatbot.NewGraph(llm, a.Retriever, chatbot.Options{
		TopK:               cfg.RAG.TopK,
		HistoryTokenBudget: cfg.RAG.HistoryTokenLimit,
	}, a.Logger)
	if err != nil {
		return err
	}
	var archive app.MessageArchive
	if a.Publisher != nil {
		archive = a.Publisher
	}
	a.Chat = app.NewChatService(graph, a.Checkpoints, archive, a.Logger)
	return nil
}

// initArchive connects the transcript pipeline. Without RABBITMQ_URL it is
// disabled; without ARCHIVE_DSN messages are published but consumed elsewhere.
func (a *App) initArchive(ctx context.Context) error {
	cfg := a.Config
	if cfg.RabbitMQ.URL == "" {
		a.Logger.Info("transcript archive disabled")
		return nil
	}
	conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.ArchiveQueue)
	if err != nil {
		return err
	}
	a.MQConn = conn
	a.Publisher = rabbitmqClient.NewMessagePublisher(conn, cfg.RabbitMQ.ArchiveQueue)

	if cfg.Archive.DSN == "" {
		return nil
	}
	db, err := mysqlClient.New(ctx, cfg.Archive.DSN)
	if err != nil {
		return err
	}
	a.ArchiveDB = db
	if err := db.WithContext(ctx).AutoMigrate(&model.Message{}, &model.Thread{}); err != nil {
		return fmt.Errorf("auto migrate archive tables failed: %w", err)
	}
	a.Messages = repository.NewMessageRepository(db)
	a.Threads = repository.NewThreadRepository(db)
	a.MessageWorker = worker.NewMessagePersistWorker(conn, a.Messages, cfg.RabbitMQ.ArchiveQueue, a.Logger).
		WithThreads(a.Threads)
	// The worker outlives the bootstrap context; Close stops it.
	if err := a.MessageWorker.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start message worker failed: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		errs = append(errs, a.MQConn.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.ArchiveDB != nil {
		errs = append(errs, mysqlClient.Close(a.ArchiveDB))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	return errors.Join(errs...)
}

func scheme(dsn string) string {
	s, _, _ := strings.Cut(dsn, "://")
	return s
}
