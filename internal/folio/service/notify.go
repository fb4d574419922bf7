package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/pkg/mailx"
)

const notifyTimeout = 30 * time.Second

// Notifier e-mails the account owner about security relevant changes.
// Delivery runs in the background and failures are only logged.
type Notifier struct {
	Sender mailx.Sender
	Logger *slog.Logger

	wg sync.WaitGroup
}

func NewNotifier(sender mailx.Sender, logger *slog.Logger) *Notifier {
	return &Notifier{Sender: sender, Logger: logger}
}

func (n *Notifier) TwoFactorEnabled(ctx context.Context, u domain.User) {
	n.send(ctx, u, "Two-factor authentication enabled",
		"Two-factor authentication was enabled on your admin account.\n\n"+
			"If this was not you, reset your password and disable two-factor from the server.")
}

func (n *Notifier) TwoFactorDisabled(ctx context.Context, u domain.User) {
	n.send(ctx, u, "Two-factor authentication disabled",
		"Two-factor authentication was disabled on your admin account.\n\n"+
			"If this was not you, sign in and enable it again immediately.")
}

func (n *Notifier) BackupCodeUsed(ctx context.Context, u domain.User, remaining int) {
	body := fmt.Sprintf("A backup code was used to sign in to your admin account.\n\n"+
		"You have %d backup codes left.", remaining)
	if remaining == 0 {
		body += " Disable and set up two-factor again to get new ones."
	}
	n.send(ctx, u, "Backup code used", body)
}

// Wait blocks until queued messages are delivered or have failed.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) send(ctx context.Context, u domain.User, subject, text string) {
	if n == nil || n.Sender == nil || u.Email == "" {
		return
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	msg := mailx.Message{To: u.Email, Subject: subject, Text: text}
	// Detached from the request so delivery outlives the response.
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		if err := n.Sender.Send(ctx, msg); err != nil {
			logger.Warn("failed to send security notification", "user_id", u.ID, "subject", subject, "err", err)
		}
	}()
}
