package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/otpx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// SetupResult is everything an authenticator app and the admin need to
// finish enrollment.
type SetupResult struct {
	Secret      string
	URI         string
	QRCode      string // data:image/png;base64,...
	BackupCodes []string
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// SetupTwoFactor stores a fresh secret and backup codes while leaving
// two-factor disabled. Repeating it before confirmation replaces the
// previous unconfirmed secret.
func (s *AuthService) SetupTwoFactor(ctx context.Context, userID string) (SetupResult, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return SetupResult{}, err
	}
	if u.TwoFactorEnabled {
		return SetupResult{}, ErrAlreadyEnabled
	}

	enrollment, err := s.TOTP.GenerateSecret(otpx.AccountLabel(u.Email))
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	img, err := otpx.RenderEnrollmentImage(enrollment.URI)
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to render enrollment image: %w", err)
	}
	codes, err := otpx.GenerateBackupCodes(otpx.DefaultBackupCodeCount)
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	err = s.Users.SaveTwoFactorSetup(ctx, u.ID, enrollment.Secret, codes)
	switch {
	case errors.Is(err, store.ErrConflict):
		return SetupResult{}, ErrAlreadyEnabled
	case errors.Is(err, store.ErrNotFound):
		return SetupResult{}, ErrUserNotFound
	case err != nil:
		return SetupResult{}, fmt.Errorf("failed to store two-factor setup: %w", err)
	}

	slogx.FromContext(ctx).Info("two-factor setup started", "user_id", u.ID)
	return SetupResult{
		Secret:      enrollment.Secret,
		URI:         enrollment.URI,
		QRCode:      otpx.EnrollmentDataURI(img),
		BackupCodes: codes,
	}, nil
}

// ConfirmTwoFactor enables two-factor once code matches the stored secret.
// A wrong code leaves the setup in place for another try.
func (s *AuthService) ConfirmTwoFactor(ctx context.Context, userID, code string) error {
	if !otpx.IsValidCodeFormat(code) {
		return ErrInvalidCodeFormat
	}

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorEnabled {
		return ErrAlreadyEnabled
	}
	if !u.HasTwoFactorSecret() {
		return ErrSetupNotStarted
	}
	if !s.TOTP.VerifyCode(code, *u.TwoFactorSecret) {
		slogx.FromContext(ctx).Info("two-factor confirmation rejected", "reason", "wrong_code", "user_id", u.ID)
		return ErrInvalidCode
	}

	err = s.Users.EnableTwoFactor(ctx, u.ID)
	switch {
	case errors.Is(err, store.ErrConflict):
		return ErrSetupNotStarted
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case err != nil:
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}

	slogx.FromContext(ctx).Info("two-factor enabled", "user_id", u.ID)
	s.Notifier.TwoFactorEnabled(ctx, u)
	return nil
}

// DisableTwoFactor clears the secret and backup codes and drops every
// pending session of the user.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrNotEnabled
	}
	return s.disableTwoFactor(ctx, u)
}

func (s *AuthService) disableTwoFactor(ctx context.Context, u domain.User) error {
	log := slogx.FromContext(ctx)

	err := s.Users.DisableTwoFactor(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}

	// Verification re-checks the enabled flag, so a failed purge cannot
	// resurrect a pending login.
	if err := s.Sessions.DeleteAllForUser(ctx, u.ID, ""); err != nil {
		log.Warn("failed to purge pending sessions", "user_id", u.ID, "err", err)
	}

	log.Info("two-factor disabled", "user_id", u.ID)
	s.Notifier.TwoFactorDisabled(ctx, u)
	return nil
}
