package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"wallpaperzzz/internal/blob"
	"wallpaperzzz/internal/ingest"
	"wallpaperzzz/internal/logger"
	"wallpaperzzz/internal/models"
	"wallpaperzzz/internal/server"
	"wallpaperzzz/internal/storage"
	"wallpaperzzz/internal/taskqueue"
	"wallpaperzzz/internal/transcoder"
)

const shutdownTimeout = 15 * time.Second

var (
	_ ingest.Repository       = (*storage.Storage)(nil)
	_ ingest.SettingsProvider = (*storage.Storage)(nil)
	_ ingest.Queue            = (*taskqueue.Client)(nil)
	_ server.Catalog          = (*storage.Storage)(nil)
	_ server.Ingester         = (*ingest.Pipeline)(nil)
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	mode := flag.String("mode", "all", "what to run: all, api or worker")
	flag.Parse()

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, lg); err != nil {
		lg.Error("service stopped", "error", err)
		os.Exit(1)
	}
	lg.Info("service stopped")
}

func run(ctx context.Context, cfg *models.Config, mode string, lg *slog.Logger) error {
	runAPI := mode == "all" || mode == "api"
	runWorker := mode == "all" || mode == "worker"
	if !runAPI && !runWorker {
		return fmt.Errorf("unknown mode %q", mode)
	}

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL, lg)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer db.Close()

	blobs, err := blob.NewFSStore(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	broker := newBroker(cfg, lg)
	defer broker.Close()

	client := taskqueue.NewClient(broker, taskqueue.NewRedisBackend(rdb, cfg.ResultTTL))
	pipeline := ingest.New(db, db, blobs, client, transcoder.New(), lg, ingest.Config{
		Countdown:     cfg.GroupCountdown,
		MaxUploadSize: cfg.MaxUploadSize,
	})

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		worker := taskqueue.NewWorker(client, lg)
		pipeline.Register(worker)
		g.Go(func() error {
			lg.Info("worker started", "broker", cfg.Broker, "concurrency", cfg.WorkerConcurrency)
			return worker.Run(gctx)
		})
	}

	if runAPI {
		srv := server.NewServer(cfg, pipeline, db, blobs, lg)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	}

	return g.Wait()
}

func newBroker(cfg *models.Config, lg *slog.Logger) taskqueue.Broker {
	if cfg.Broker == models.BrokerAsynq {
		return taskqueue.NewAsynqBroker(taskqueue.AsynqConfig{
			Redis: asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			},
			Queue:       cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
		}, lg)
	}
	return taskqueue.NewKafkaBroker(taskqueue.KafkaConfig{
		Brokers:     []string{cfg.KafkaBroker},
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroup,
		Concurrency: cfg.WorkerConcurrency,
	}, lg)
}
