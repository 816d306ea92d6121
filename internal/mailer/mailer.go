package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"github.com/carzone/carzone-backend/internal/config"
)

// Mailer delivers transactional mail. Callers treat delivery as
// fire-and-forget; failures are logged, never surfaced to the request path.
type Mailer interface {
	SendEmailVerification(ctx context.Context, to, name, code string) error
	SendPasswordReset(ctx context.Context, to, name, code string) error
	SendOrderConfirmation(ctx context.Context, to, name string, orderCode, total int64) error
}

type SMTPMailer struct {
	addr     string
	from     string
	username string
	password string
	logger   *slog.Logger
}

func NewSMTPMailer(cfg *config.Config, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		addr:     cfg.SMTPAddr,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		logger:   logger,
	}
}

func (m *SMTPMailer) SendEmailVerification(ctx context.Context, to, name, code string) error {
	subject := "Verify your email address"
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour verification code is %s. It expires in 15 minutes.\r\n", name, code)
	return m.send(ctx, to, subject, body)
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, name, code string) error {
	subject := "Reset your password"
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour password reset code is %s. It expires in 15 minutes.\r\nIf you did not request this, you can ignore this email.\r\n", name, code)
	return m.send(ctx, to, subject, body)
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, to, name string, orderCode, total int64) error {
	subject := fmt.Sprintf("Order #%d confirmed", orderCode)
	body := fmt.Sprintf("Hi %s,\r\n\r\nWe received your order #%d for a total of %d.\r\nWe will notify you once payment settles.\r\n", name, orderCode, total)
	return m.send(ctx, to, subject, body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.username != "" {
		host, _, err := net.SplitHostPort(m.addr)
		if err != nil {
			host = m.addr
		}
		auth = smtp.PlainAuth("", m.username, m.password, host)
	}
	if err := smtp.SendMail(m.addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		m.logger.Error("mail delivery failed", "to", to, "subject", subject, "error", err)
		return err
	}
	m.logger.Info("mail delivered", "to", to, "subject", subject)
	return nil
}

// LogMailer is used when sending is disabled or no SMTP endpoint is
// configured. Codes land in the logs so local flows stay testable end to end.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer { return &LogMailer{logger: logger} }

func (m *LogMailer) SendEmailVerification(_ context.Context, to, name, code string) error {
	m.logger.Info("verification email suppressed", "to", to, "name", name, "code", code)
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, name, code string) error {
	m.logger.Info("password reset email suppressed", "to", to, "name", name, "code", code)
	return nil
}

func (m *LogMailer) SendOrderConfirmation(_ context.Context, to, name string, orderCode, total int64) error {
	m.logger.Info("order confirmation suppressed", "to", to, "name", name, "order_code", orderCode, "total", total)
	return nil
}

// FromConfig picks the SMTP transport when sending is enabled and an
// endpoint is configured, and the log-only transport otherwise.
func FromConfig(cfg *config.Config, logger *slog.Logger) Mailer {
	if !cfg.MailerSend || cfg.SMTPAddr == "" {
		return NewLogMailer(logger)
	}
	return NewSMTPMailer(cfg, logger)
}
