package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"authsvc/internal/config"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, to string, rendered Rendered) error
}

type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.SMTP.Host, strconv.Itoa(cfg.SMTP.Port)),
		auth:     auth,
		from:     cfg.From,
		fromName: cfg.FromName,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to string, rendered Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := BuildMIME(s.fromName, s.from, to, rendered, time.Now())
	if err := s.send(s.addr, s.auth, s.from, []string{to}, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// BuildMIME produces an RFC 5322 message with an HTML body.
func BuildMIME(fromName, from, to string, rendered Rendered, date time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", rendered.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(rendered.HTML)
	return buf.Bytes()
}
