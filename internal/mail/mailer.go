package mail

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"authsvc/internal/clock"
	"authsvc/internal/ids"
	"authsvc/internal/models"
)

type Metrics interface {
	RecordMailEnqueued(kind, outcome string)
}

// Mailer turns account events into outbox messages.
type Mailer struct {
	outbox      Outbox
	frontendURL string
	clock       clock.Clock
	metrics     Metrics
	log         zerolog.Logger
}

func NewMailer(outbox Outbox, frontendURL string, clk clock.Clock, metrics Metrics, log zerolog.Logger) *Mailer {
	if clk == nil {
		clk = clock.System()
	}
	return &Mailer{
		outbox:      outbox,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		clock:       clk,
		metrics:     metrics,
		log:         log,
	}
}

func (m *Mailer) SendWelcome(ctx context.Context, user models.User, verificationToken string) error {
	return m.publish(ctx, KindWelcome, user, m.link("/verify-email", verificationToken))
}

func (m *Mailer) SendEmailVerification(ctx context.Context, user models.User, token string) error {
	return m.publish(ctx, KindEmailVerification, user, m.link("/verify-email", token))
}

func (m *Mailer) SendPasswordReset(ctx context.Context, user models.User, token string) error {
	return m.publish(ctx, KindPasswordReset, user, m.link("/reset-password", token))
}

func (m *Mailer) link(path, token string) string {
	return m.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (m *Mailer) publish(ctx context.Context, kind Kind, user models.User, link string) error {
	msg := Message{
		ID:        ids.New(),
		Kind:      kind,
		To:        user.Email,
		FirstName: user.FirstName,
		Link:      link,
		CreatedAt: m.clock.Now().UTC(),
	}

	err := m.outbox.Publish(ctx, msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if m.metrics != nil {
		m.metrics.RecordMailEnqueued(string(kind), outcome)
	}
	if err != nil {
		return err
	}

	m.log.Debug().
		Str("message_id", msg.ID).
		Str("kind", string(kind)).
		Int64("user_id", user.ID).
		Msg("mail enqueued")
	return nil
}
