package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"authsvc/internal/config"
)

// Outbox hands messages to the mail worker.
type Outbox interface {
	Publish(ctx context.Context, msg Message) error
}

// Stream entry fields.
const (
	FieldID      = "id"
	FieldKind    = "kind"
	FieldPayload = "payload"
)

type RedisStreamOutbox struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamOutbox(client redis.Cmdable, stream string) *RedisStreamOutbox {
	return &RedisStreamOutbox{client: client, stream: stream, maxLen: 100_000}
}

func (o *RedisStreamOutbox) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			FieldID:      msg.ID,
			FieldKind:    string(msg.Kind),
			FieldPayload: string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", o.stream, err)
	}
	return nil
}

type KafkaOutbox struct {
	writer *kafka.Writer
}

func NewKafkaOutbox(cfg config.KafkaConfig) *KafkaOutbox {
	var transport *kafka.Transport
	if cfg.Username != "" || cfg.TLS {
		transport = &kafka.Transport{}
		if cfg.Username != "" {
			transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
		}
		if cfg.TLS {
			transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if transport != nil {
		w.Transport = transport
	}
	return &KafkaOutbox{writer: w}
}

func (o *KafkaOutbox) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := o.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
		Time:  msg.CreatedAt,
	}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (o *KafkaOutbox) Close() error {
	return o.writer.Close()
}

// LogOutbox only logs the envelope. Used when no transport is configured.
type LogOutbox struct {
	log zerolog.Logger
}

func NewLogOutbox(log zerolog.Logger) *LogOutbox {
	return &LogOutbox{log: log}
}

func (o *LogOutbox) Publish(_ context.Context, msg Message) error {
	o.log.Info().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Msg("mail transport disabled, message dropped")
	return nil
}
