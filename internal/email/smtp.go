// Package email sends operational notifications over the tenant's SMTP
// server via go-mail.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"sdrdesk_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers notification emails.
type Sender interface {
	SendTransferNotification(ctx context.Context, toEmail, contactName, reason string) error
	SendAssignmentNotification(ctx context.Context, toEmail, ownerName, leadName, outcome string) error
}

// SMTPSender implements Sender using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender from the email configuration.
// Returns nil when email delivery is disabled.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	if !cfg.GetEmailEnabled() {
		return nil
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, body string) error {
	if s == nil {
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

// SendTransferNotification notifies the team that a conversation needs a human.
func (s *SMTPSender) SendTransferNotification(ctx context.Context, toEmail, contactName, reason string) error {
	subject := "Conversation needs human attention"
	body := fmt.Sprintf("The conversation with %s was handed off by the assistant.\n\nReason: %s\n", contactName, reason)
	if reason == "" {
		body = fmt.Sprintf("The conversation with %s was handed off by the assistant.\n", contactName)
	}
	return s.send(ctx, toEmail, subject, body)
}

// SendAssignmentNotification notifies a user that a lead was assigned to them.
func (s *SMTPSender) SendAssignmentNotification(ctx context.Context, toEmail, ownerName, leadName, outcome string) error {
	subject := "New lead assigned to you"
	body := fmt.Sprintf("Hi %s,\n\nThe lead %s was assigned to you (outcome: %s). Please follow up.\n", ownerName, leadName, outcome)
	return s.send(ctx, toEmail, subject, body)
}
