// Package mail delivers transactional email through SendGrid, or logs messages locally when
// no API key is configured.
package mail

import (
	"context"
	"errors"
	"strings"
)

// Address is a named mailbox.
type Address struct {
	Name  string
	Email string
}

// Message is a rendered email ready for delivery.
type Message struct {
	To      []Address
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoRecipients is returned for messages without a deliverable address.
var ErrNoRecipients = errors.New("mail: no recipients")

func (m Message) recipients() []Address {
	out := make([]Address, 0, len(m.To))
	for _, to := range m.To {
		to.Email = strings.TrimSpace(to.Email)
		if to.Email != "" {
			out = append(out, to)
		}
	}
	return out
}

// LogFunc matches the event logger used across the service.
type LogFunc func(ctx context.Context, event string, fields map[string]any)

// LogSender records messages instead of delivering them.
type LogSender struct {
	log LogFunc
}

// NewLogSender constructs a LogSender.
func NewLogSender(log LogFunc) *LogSender {
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	return &LogSender{log: log}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	emails := make([]string, 0, len(to))
	for _, addr := range to {
		emails = append(emails, addr.Email)
	}
	s.log(ctx, "mail.logged", map[string]any{
		"to":      strings.Join(emails, ","),
		"subject": msg.Subject,
	})
	return nil
}
