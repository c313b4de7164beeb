package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mapleportal/internal/model"
)

// MessageStore is where archived messages end up.
type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
}

// ThreadIndex keeps per-thread summaries next to the transcript.
type ThreadIndex interface {
	Touch(ctx context.Context, message *model.Message) error
}

// MessagePersistWorker drains the archive queue into the transcript table.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	store     MessageStore
	threads   ThreadIndex
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, store MessageStore, queueName string, logger *zap.Logger) *MessagePersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagePersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		logger:    logger.Named("worker.archive"),
	}
}

// WithThreads makes the worker maintain thread summaries as well.
func (w *MessagePersistWorker) WithThreads(threads ThreadIndex) *MessagePersistWorker {
	w.threads = threads
	return w
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"mapleportal-archive",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				if err := w.Handle(workerCtx, d.Body); err != nil {
					w.logger.Error("archive message failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info("archive worker started", zap.String("queue", w.queueName))
	return nil
}

// Handle decodes and stores one delivery body.
func (w *MessagePersistWorker) Handle(ctx context.Context, body []byte) error {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode message failed: %w", err)
	}
	if msg.ThreadID == "" || msg.Role == "" {
		return fmt.Errorf("message without thread or role")
	}
	msg.ID = 0
	if err := w.store.Create(ctx, &msg); err != nil {
		return err
	}
	if w.threads != nil {
		// Summary errors never fail a delivery.
		if err := w.threads.Touch(ctx, &msg); err != nil {
			w.logger.Warn("update thread summary failed", zap.String("thread_id", msg.ThreadID), zap.Error(err))
		}
	}
	return nil
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
