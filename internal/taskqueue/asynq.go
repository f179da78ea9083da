package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

type AsynqConfig struct {
	Redis       asynq.RedisClientOpt
	Queue       string
	Concurrency int
}

// AsynqBroker delegates delivery and countdown scheduling to asynq. Tasks are enqueued
// with no retries, so a failed or rejected task is never requeued.
type AsynqBroker struct {
	cfg    AsynqConfig
	client *asynq.Client
	logger *slog.Logger
}

func NewAsynqBroker(cfg AsynqConfig, logger *slog.Logger) *AsynqBroker {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &AsynqBroker{
		cfg:    cfg,
		client: asynq.NewClient(cfg.Redis),
		logger: logger.With("component", "asynq_broker"),
	}
}

func (b *AsynqBroker) Publish(ctx context.Context, msg Message) error {
	const op = "taskqueue.AsynqBroker.Publish"

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = b.client.EnqueueContext(ctx, asynq.NewTask(msg.Task, payload),
		asynq.TaskID(msg.ID),
		asynq.Queue(b.cfg.Queue),
		asynq.MaxRetry(0),
		asynq.ProcessAt(msg.ETA),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// already enqueued under the same id
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (b *AsynqBroker) Consume(ctx context.Context, h Handler) error {
	const op = "taskqueue.AsynqBroker.Consume"

	srv := asynq.NewServer(b.cfg.Redis, asynq.Config{
		Concurrency: b.cfg.Concurrency,
		Queues:      map[string]int{b.cfg.Queue: 1},
		IsFailure: func(err error) bool {
			return !IsRejected(err)
		},
	})

	handler := asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			return fmt.Errorf("%w: malformed payload for %s: %v", asynq.SkipRetry, t.Type(), err)
		}
		if err := h(ctx, msg); err != nil {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return nil
	})

	if err := srv.Start(handler); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.logger.Info("asynq worker started", "queue", b.cfg.Queue, "concurrency", b.cfg.Concurrency)
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func (b *AsynqBroker) Close() error {
	return b.client.Close()
}
