// Package mailx delivers plain notification e-mails over SMTP.
package mailx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/go-mail/mail"
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("mailx: message has no recipient")

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string // optional alternative part
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLSMode  string // "auto" upgrades with STARTTLS when offered, "ssl" dials TLS directly
	Timeout  time.Duration
}

// SMTPSender sends mail through a single SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d.Timeout {
			d.Timeout = remaining
		}
	}
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	if s.cfg.TLSMode == "ssl" {
		d.SSL = true
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.DialAndSend(m) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (s *SMTPSender) build(msg Message) (*mail.Message, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m, nil
}

// NopSender logs instead of sending. Used when SMTP is not configured.
type NopSender struct {
	Logger *slog.Logger
}

func (n NopSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "mail delivery disabled, dropping message",
			"to", msg.To,
			"subject", msg.Subject,
		)
	}
	return nil
}
