package queue

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"authsvc/internal/config"
)

type PayloadHandler interface {
	Process(ctx context.Context, payload []byte) error
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer commits an offset only after the handler accepted the
// message, so a crash replays it.
type KafkaConsumer struct {
	reader  fetcher
	logger  zerolog.Logger
	handler PayloadHandler
	backoff time.Duration

	maxAttempts int
}

func NewKafkaConsumer(cfg config.KafkaConfig, logger zerolog.Logger, handler PayloadHandler) *KafkaConsumer {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})
	return &KafkaConsumer{reader: reader, logger: logger, handler: handler, backoff: 2 * time.Second, maxAttempts: 5}
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("kafka fetch error")
			sleep(ctx, c.backoff)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// handle retries a failing message a bounded number of times before
// skipping it. Only context cancellation is returned.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.handler.Process(ctx, msg.Value)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error().
			Err(err).
			Int("attempt", attempt).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("handle message failed")
		if attempt >= c.maxAttempts {
			c.logger.Warn().Int64("offset", msg.Offset).Msg("giving up on message")
			return nil
		}
		sleep(ctx, c.backoff)
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
