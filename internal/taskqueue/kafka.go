package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBroker commits a message once it is due and a worker slot is free, right
// before running it. A message held for its countdown at shutdown stays uncommitted
// and is redelivered; a worker crash after the commit loses the message.
type KafkaBroker struct {
	writer      kafkaWriter
	reader      kafkaReader
	concurrency int
	logger      *slog.Logger
}

func NewKafkaBroker(cfg KafkaConfig, logger *slog.Logger) *KafkaBroker {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	})
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return newKafkaBroker(writer, reader, cfg.Concurrency, logger)
}

func newKafkaBroker(writer kafkaWriter, reader kafkaReader, concurrency int, logger *slog.Logger) *KafkaBroker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &KafkaBroker{
		writer:      writer,
		reader:      reader,
		concurrency: concurrency,
		logger:      logger.With("component", "kafka_broker"),
	}
}

func (b *KafkaBroker) Publish(ctx context.Context, msg Message) error {
	const op = "taskqueue.KafkaBroker.Publish"

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	key := msg.GroupID
	if key == "" {
		key = msg.ID
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// Consume blocks the fetch loop while the current message waits for its ETA or for
// a free slot, so nothing past it is committed ahead of execution.
func (b *KafkaBroker) Consume(ctx context.Context, h Handler) error {
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		m, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("error reading message", "error", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			b.logger.Error("dropping malformed message", "offset", m.Offset, "error", err)
			b.commit(ctx, m)
			continue
		}

		// the countdown is honoured by holding the message, not by the broker
		if !sleepCtx(ctx, time.Until(msg.ETA)) {
			b.logger.Info("shutdown before eta, message left uncommitted", "task_id", msg.ID, "task", msg.Task)
			return nil
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		b.commit(ctx, m)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := h(ctx, msg); err != nil {
				b.logger.Debug("task ended with error", "task_id", msg.ID, "task", msg.Task, "error", err)
			}
		}()
	}
}

func (b *KafkaBroker) commit(ctx context.Context, m kafka.Message) {
	if err := b.reader.CommitMessages(ctx, m); err != nil {
		b.logger.Warn("commit failed", "offset", m.Offset, "partition", m.Partition, "error", err)
	}
}

func (b *KafkaBroker) Close() error {
	werr := b.writer.Close()
	rerr := b.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
