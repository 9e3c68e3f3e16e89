package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers query-completion notifications over SMTP.
type EmailSender struct {
	cfg SMTPConfig
}

// NewEmailSender creates an EmailSender for the given relay.
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// SendQueryCompleted mails the result summary for a finished query to the
// address the user attached at submission.
func (e *EmailSender) SendQueryCompleted(ctx context.Context, to string, q domain.Query, summary string) error {
	subject := "Your search query has completed"
	body := fmt.Sprintf(
		"Your query has finished running.\n\nQuery: %s\nCompleted: %s\n\nSummary:\n%s\n",
		q.Text, time.Now().UTC().Format(time.RFC1123), summary,
	)
	return e.send(ctx, to, subject, body)
}

func (e *EmailSender) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, e.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}
