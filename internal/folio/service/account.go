package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/aussiebroadwan/folio/pkg/idx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// MinPasswordLength applies to new accounts only.
const MinPasswordLength = 8

type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an account and signs it in. Unless AllowRegistration is
// set, only the very first account may register, and of concurrent first
// registrations exactly one wins.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (LoginResult, error) {
	insert := s.Users.CreateUser
	if !s.AllowRegistration {
		empty, err := s.Users.IsEmpty(ctx)
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to check user table: %w", err)
		}
		if !empty {
			return LoginResult{}, ErrRegistrationClosed
		}
		insert = s.Users.CreateFirstUser
	}

	u, err := s.createUser(ctx, req, insert)
	if errors.Is(err, store.ErrConflict) {
		return LoginResult{}, ErrRegistrationClosed
	}
	if err != nil {
		return LoginResult{}, err
	}

	token, err := s.Tokens.IssueFullToken(u.ID, u.Email, false)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return LoginResult{AccessToken: token, User: u}, nil
}

// CreateUser validates and stores a new active account with two-factor
// disabled.
func (s *AuthService) CreateUser(ctx context.Context, req RegisterRequest) (domain.User, error) {
	return s.createUser(ctx, req, s.Users.CreateUser)
}

func (s *AuthService) createUser(ctx context.Context, req RegisterRequest, insert func(context.Context, domain.User) error) (domain.User, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.User{}, ErrMissingFields
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.User{}, ErrInvalidEmail
	}
	if len(req.Password) < MinPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = insert(ctx, u)
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, ErrEmailTaken
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	slogx.FromContext(ctx).Info("user created", "user_id", u.ID)
	return u, nil
}

// Me returns the account behind a full token.
func (s *AuthService) Me(ctx context.Context, userID string) (domain.User, error) {
	return s.loadUser(ctx, userID)
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := s.Users.GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// ResetTwoFactor is the operator recovery path for a locked out admin. It
// also clears an unconfirmed setup.
func (s *AuthService) ResetTwoFactor(ctx context.Context, email string) error {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled && !u.HasTwoFactorSecret() {
		return ErrNotEnabled
	}
	return s.disableTwoFactor(ctx, u)
}

// SetActive activates or deactivates the account for email.
func (s *AuthService) SetActive(ctx context.Context, email string, active bool) error {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.Users.SetActive(ctx, u.ID, active); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if !active {
		if err := s.Sessions.DeleteAllForUser(ctx, u.ID, ""); err != nil {
			slogx.FromContext(ctx).Warn("failed to purge pending sessions", "user_id", u.ID, "err", err)
		}
	}
	slogx.FromContext(ctx).Info("account updated", "user_id", u.ID, "active", active)
	return nil
}
