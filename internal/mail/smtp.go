// Package mail delivers rendered digests over SMTP.
package mail

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/news"
)

// Config carries the SMTP knobs.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport implements news.MailTransport over net/smtp with PLAIN auth.
type SMTPTransport struct {
	cfg  Config
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

var _ news.MailTransport = (*SMTPTransport)(nil)

// NewSMTPTransport builds a transport from configuration.
func NewSMTPTransport(cfg Config) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp transport misconfigured: host and from are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPTransport{cfg: cfg, send: smtp.SendMail}, nil
}

// Send delivers one message. The smtp dial has no context hook, so the call
// runs in a goroutine bounded by the configured timeout.
func (t *SMTPTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	msg := buildMessage(t.cfg.From, to, subject, htmlBody)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.send(addr, auth, t.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogTransport logs digests instead of sending them, for development.
type LogTransport struct {
	logger *zap.Logger
}

var _ news.MailTransport = (*LogTransport)(nil)

// NewLogTransport constructs a LogTransport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

// Send logs the message metadata and body size.
func (t *LogTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	t.logger.Info("digest delivery (log transport)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}
