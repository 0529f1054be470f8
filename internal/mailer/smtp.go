package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"marketscout/internal/config"
)

// SMTPMailer sends digests through a plain SMTP submission endpoint with
// STARTTLS, the classic self-hosted alternative to the Gmail API backend.
type SMTPMailer struct {
	addr       string
	auth       smtp.Auth
	from       string
	senderName string
}

// NewSMTPMailer creates an SMTP mailer from config.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth:       smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host),
		from:       from,
		senderName: cfg.SenderName,
	}
}

// Send implements digest.Mailer. smtp.SendMail negotiates STARTTLS when the
// server offers it; ctx cancellation is not interruptible mid-transaction,
// which the short dial timeout of the standard dialer bounds well enough.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", m.senderName, m.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Reply-To: %s\r\n", m.from))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", to, err)
	}
	return nil
}
