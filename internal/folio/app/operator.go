package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/aussiebroadwan/folio/pkg/mailx"
	"github.com/aussiebroadwan/folio/pkg/otpx"
)

// Operator backs the maintenance commands. It opens the stores but never
// listens or signs tokens, so JWT_SECRET is not required.
type Operator struct {
	Auth   *service.AuthService
	Logger *slog.Logger

	db       store.Store
	sessions Sessions
	notifier *service.Notifier
}

func NewOperator(ctx context.Context, cfg Config) (*Operator, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := NewLogger(cfg)
	cryptox.SetPepperPath(cfg.PepperFile)

	db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := OpenSessions(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var sender mailx.Sender = mailx.NopSender{Logger: logger}
	if cfg.SMTP.Host != "" {
		sender = mailx.NewSMTPSender(cfg.SMTP)
	}
	notifier := service.NewNotifier(sender, logger)

	return &Operator{
		Auth: &service.AuthService{
			Users:    db.Users(),
			Sessions: sessions,
			TOTP:     otpx.NewEngine(cfg.TOTPIssuer),
			Notifier: notifier,
		},
		Logger:   logger,
		db:       db,
		sessions: sessions,
		notifier: notifier,
	}, nil
}

// Close waits for queued notifications and releases the stores.
func (o *Operator) Close() error {
	o.notifier.Wait()
	return errors.Join(o.sessions.Close(), o.db.Close())
}
