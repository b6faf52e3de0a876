// ABOUTME: Admission-notice email delivery
// ABOUTME: SMTP sender plus a log-only sender for when email is disabled

package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Notice is the admission confirmation mailed when a participant is admitted.
type Notice struct {
	To             string
	Name           string
	GatheringTitle string
	CredentialID   string
}

// Sender delivers admission notices. Sends are fire-and-forget at the call
// site: callers log failures and move on.
type Sender interface {
	SendAdmissionNotice(ctx context.Context, n Notice) error
}

// SMTPSender delivers notices over plain SMTP.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	s := &SMTPSender{addr: addr, from: from}
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) SendAdmissionNotice(ctx context.Context, n Notice) error {
	msg := buildMessage(s.from, n)
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{n.To}, msg); err != nil {
		return fmt.Errorf("sending admission notice: %w", err)
	}
	return nil
}

func buildMessage(from string, n Notice) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", n.To)
	fmt.Fprintf(&b, "Subject: You're in: %s\r\n", n.GatheringTitle)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", n.Name)
	fmt.Fprintf(&b, "You're confirmed for %s.\r\n\r\n", n.GatheringTitle)
	fmt.Fprintf(&b, "Your ticket ID: %s\r\n", n.CredentialID)
	b.WriteString("\r\nShow the ticket in the app at the door.\r\n")
	return []byte(b.String())
}

// LogSender records notices to the log instead of sending mail. Used when
// email delivery is disabled in config.
type LogSender struct {
	logger *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "mailer")}
}

func (s *LogSender) SendAdmissionNotice(ctx context.Context, n Notice) error {
	s.logger.Info("admission notice (email disabled)",
		"to", n.To,
		"gathering", n.GatheringTitle,
		"credential_id", n.CredentialID)
	return nil
}
