package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"authsvc/internal/cache"
	"authsvc/internal/config"
	"authsvc/internal/log"
	"authsvc/internal/mail"
	"authsvc/internal/storage"
	"authsvc/internal/worker/queue"
	"authsvc/internal/worker/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "mail-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	renderer, err := mail.NewRenderer()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse mail templates")
	}

	processor := tasks.NewProcessor(renderer, mail.NewSMTPSender(cfg.Mail), newArchive(ctx, cfg, logger), logger)

	var run func(ctx context.Context) error
	switch cfg.Mail.Transport {
	case "kafka":
		consumer := queue.NewKafkaConsumer(cfg.Kafka, logger, processor)
		defer consumer.Close()
		run = consumer.Start
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		consumer := queue.NewConsumer(
			client,
			cfg.Mail.Stream,
			cfg.Mail.Group,
			cfg.Mail.Consumer,
			cfg.Mail.ClaimInterval,
			logger,
			processor,
		)
		run = consumer.Start
	default:
		logger.Fatal().Str("transport", cfg.Mail.Transport).Msg("mail transport has no worker")
	}

	go func() {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	time.Sleep(500 * time.Millisecond)
}

// newArchive returns nil unless archiving is enabled and the bucket is usable.
func newArchive(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) tasks.Archive {
	if !cfg.Mail.Archive {
		return nil
	}
	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("failed to init object store, archiving disabled")
		return nil
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Error().Err(err).Msg("ensure bucket failed, archiving disabled")
		return nil
	}
	return store
}
