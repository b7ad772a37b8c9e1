package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
)

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2 style="color: #2f4f8f;">{{ .Subject }}</h2>
  <p style="white-space: pre-line;">{{ .Body }}</p>
  <hr style="border: none; border-top: 1px solid #ddd;">
  <p style="font-size: 12px; color: #888;">This message was sent by the hostel office. Please do not reply.</p>
</body>
</html>`))

// ResendEmail sends email through the Resend API.
type ResendEmail struct {
	client *resend.Client
	from   string
}

// NewResendEmail builds an email provider.
func NewResendEmail(client *resend.Client, from string) *ResendEmail {
	return &ResendEmail{client: client, from: from}
}

// Name implements Provider.
func (p *ResendEmail) Name() string { return "resend" }

// Send renders the message into the HTML layout and submits it.
func (p *ResendEmail) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}

	var html bytes.Buffer
	if err := emailLayout.Execute(&html, msg); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	req := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Html:    html.String(),
		Text:    msg.Body,
	}
	if _, err := p.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("send email via resend: %w", err)
	}
	return nil
}
