// Package mail builds transactional emails, hands them to an outbox on the
// API side and renders and delivers them on the worker side.
package mail

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindWelcome           Kind = "welcome"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWelcome, KindEmailVerification, KindPasswordReset:
		return true
	}
	return false
}

// Message is the outbox payload. Link carries the one-time token and must
// never be logged.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	FirstName string    `json:"firstName"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode mail message: %w", err)
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("decode mail message: unknown kind %q", m.Kind)
	}
	if m.To == "" {
		return Message{}, fmt.Errorf("decode mail message: missing recipient")
	}
	return m, nil
}
