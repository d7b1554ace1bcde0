package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridClient
	from   Address
}

// NewSendGridSender constructs a sender using apiKey.
func NewSendGridSender(apiKey string, from Address) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("mail: sendgrid api key is required")
	}
	if strings.TrimSpace(from.Email) == "" {
		return nil, errors.New("mail: from address is required")
	}
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: from}, nil
}

// Send implements Sender. Non-2xx responses are returned as errors.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}

	email := sgmail.NewV3Mail()
	email.SetFrom(sgmail.NewEmail(s.from.Name, s.from.Email))
	email.Subject = msg.Subject
	p := sgmail.NewPersonalization()
	for _, addr := range to {
		p.AddTos(sgmail.NewEmail(addr.Name, addr.Email))
	}
	email.AddPersonalizations(p)
	if msg.Text != "" {
		email.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		email.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("mail: sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail: sendgrid responded %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
