package tasks

import (
	"context"
	"fmt"
	"path"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authsvc/internal/mail"
)

type Renderer interface {
	Render(msg mail.Message) (mail.Rendered, error)
}

type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Processor renders outbox messages and hands them to the mail sender.
type Processor struct {
	renderer Renderer
	sender   mail.Sender
	archive  Archive
	logger   zerolog.Logger
}

// NewProcessor builds a processor. archive may be nil.
func NewProcessor(renderer Renderer, sender mail.Sender, archive Archive, logger zerolog.Logger) *Processor {
	return &Processor{
		renderer: renderer,
		sender:   sender,
		archive:  archive,
		logger:   logger,
	}
}

// Handle processes a Redis stream entry.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	raw, ok := msg.Values[mail.FieldPayload].(string)
	if !ok {
		p.logger.Warn().Str("entry_id", msg.ID).Msg("stream entry without payload dropped")
		return nil
	}
	return p.Process(ctx, []byte(raw))
}

// Process delivers one encoded message. Undecodable payloads are dropped;
// delivery failures are returned so the transport retries.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	msg, err := mail.Decode(payload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("invalid mail payload dropped")
		return nil
	}

	rendered, err := p.renderer.Render(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("render failed, message dropped")
		return nil
	}

	if err := p.sender.Send(ctx, msg.To, rendered); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}

	log := p.logger.With().Str("message_id", msg.ID).Str("kind", string(msg.Kind)).Logger()
	log.Info().Msg("mail delivered")

	if p.archive != nil {
		key := path.Join(msg.CreatedAt.UTC().Format("2006/01/02"), msg.ID+".html")
		if err := p.archive.Put(ctx, key, []byte(rendered.HTML), "text/html; charset=utf-8"); err != nil {
			log.Warn().Err(err).Msg("archive mail failed")
		}
	}
	return nil
}
