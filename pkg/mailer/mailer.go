package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/concours-api/pkg/config"
)

// Message is a plain text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends mail through an SMTP relay using gomail.
type SMTPMailer struct {
	from   string
	dialer dialer
	logger *zap.Logger
}

// NewSMTPMailer builds a mailer from the notification settings.
func NewSMTPMailer(cfg config.NotificationsConfig, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPMailer{
		from:   cfg.SMTPFrom,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		logger: logger,
	}
}

// Send renders msg and hands it to the relay. gomail has no context support, so
// cancellation is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("send mail: recipient required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := gomail.NewMessage()
	out.SetHeader("From", m.from)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(out); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Debug("mail sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// NoopSender drops every message. It is used when email is disabled.
type NoopSender struct{}

// Send implements Sender.
func (NoopSender) Send(context.Context, Message) error { return nil }
