package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/aussiebroadwan/folio/pkg/idx"
	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/aussiebroadwan/folio/pkg/otpx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// Second factor methods, used in logs and metrics.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// Outcomes reported to the Recorder.
const (
	OutcomeSuccess            = "success"
	OutcomePending            = "pending_2fa"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeDeactivated        = "deactivated"
	OutcomeInvalidSession     = "invalid_session"
	OutcomeInvalidCode        = "invalid_code"
	OutcomeError              = "error"
)

// Recorder receives authentication outcomes. The metrics package provides
// the Prometheus implementation.
type Recorder interface {
	LoginAttempt(outcome string)
	SecondFactor(method, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string)         {}
func (nopRecorder) SecondFactor(string, string) {}

// AuthService drives password login, the second factor step and two-factor
// enrollment. It holds no per-request state.
type AuthService struct {
	Users    store.Users
	Sessions store.TwoFactorSessions
	Tokens   *jwtx.Issuer
	TOTP     *otpx.Engine

	// Optional collaborators; nil disables them.
	Notifier *Notifier
	Recorder Recorder
	Replay   *ReplayGuard

	// AllowRegistration opens Register beyond the first account.
	AllowRegistration bool

	Now func() time.Time
}

// LoginResult carries either a full token or a pending one, never both.
type LoginResult struct {
	AccessToken string
	User        domain.User

	RequiresTwoFactor bool
	PendingToken      string
}

type VerifyRequest struct {
	Code          string
	PendingToken  string
	UseBackupCode bool
}

type VerifyResult struct {
	Token string
	// RemainingBackupCodes is set only when a backup code was used.
	RemainingBackupCodes *int
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthService) recorder() Recorder {
	if s.Recorder == nil {
		return nopRecorder{}
	}
	return s.Recorder
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends roughly the time of a real verification so an
// unknown email cannot be told apart by latency.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = cryptox.HashPassword("folio-timing-equaliser")
	})
	if dummyHash != "" {
		_ = cryptox.VerifyPassword(password, dummyHash)
	}
}

// Login checks email and password. With two-factor disabled it returns a
// full token; otherwise a pending token backed by a pending session.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrMissingFields
	}

	u, err := s.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		burnPasswordCheck(password)
		log.Info("login rejected", "reason", "unknown_email")
		s.recorder().LoginAttempt(OutcomeInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		s.recorder().LoginAttempt(OutcomeError)
		return LoginResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		reason := "password_mismatch"
		if errors.Is(err, cryptox.ErrUnsupportedHash) {
			reason = "unsupported_hash"
		}
		log.Info("login rejected", "reason", reason, "user_id", u.ID)
		s.recorder().LoginAttempt(OutcomeInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}

	if !u.IsActive {
		log.Info("login rejected", "reason", "deactivated", "user_id", u.ID)
		s.recorder().LoginAttempt(OutcomeDeactivated)
		return LoginResult{}, ErrAccountDeactivated
	}

	if cryptox.IsLegacyHash(u.PasswordHash) {
		s.upgradePasswordHash(ctx, u.ID, password)
	}

	if !u.TwoFactorEnabled {
		token, err := s.Tokens.IssueFullToken(u.ID, u.Email, false)
		if err != nil {
			s.recorder().LoginAttempt(OutcomeError)
			return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
		}
		log.Info("login succeeded", "user_id", u.ID)
		s.recorder().LoginAttempt(OutcomeSuccess)
		return LoginResult{AccessToken: token, User: u}, nil
	}

	pending, err := s.Tokens.IssuePendingToken(u.ID, u.Email)
	if err != nil {
		s.recorder().LoginAttempt(OutcomeError)
		return LoginResult{}, fmt.Errorf("failed to issue pending token: %w", err)
	}

	now := s.now()
	sess := domain.TwoFactorSession{
		ID:        idx.NewAt(now).String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(pending),
		ExpiresAt: now.Add(s.Tokens.PendingTTL()),
		CreatedAt: now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		s.recorder().LoginAttempt(OutcomeError)
		return LoginResult{}, fmt.Errorf("failed to create pending session: %w", err)
	}

	log.Info("login awaiting second factor", "user_id", u.ID, "session_id", sess.ID)
	s.recorder().LoginAttempt(OutcomePending)
	return LoginResult{RequiresTwoFactor: true, PendingToken: pending, User: u}, nil
}

func (s *AuthService) upgradePasswordHash(ctx context.Context, userID, password string) {
	log := slogx.FromContext(ctx)

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		log.Warn("failed to rehash legacy password", "user_id", userID, "err", err)
		return
	}
	if err := s.Users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		log.Warn("failed to store rehashed password", "user_id", userID, "err", err)
		return
	}
	log.Info("upgraded legacy password hash", "user_id", userID)
}

// VerifySecondFactor completes a pending login with a TOTP or backup code.
func (s *AuthService) VerifySecondFactor(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	log := slogx.FromContext(ctx)

	method := MethodTOTP
	if req.UseBackupCode {
		method = MethodBackupCode
	}

	if req.Code == "" || req.PendingToken == "" {
		return VerifyResult{}, ErrMissingFields
	}
	if req.UseBackupCode && !otpx.IsValidBackupCodeFormat(req.Code) ||
		!req.UseBackupCode && !otpx.IsValidCodeFormat(req.Code) {
		return VerifyResult{}, ErrInvalidCodeFormat
	}

	claims, err := s.Tokens.VerifyPending(req.PendingToken)
	if err != nil {
		log.Info("second factor rejected", "reason", "pending_token", "err", err)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidOrExpiredSession
	}

	sess, err := s.Sessions.FindActive(ctx, cryptox.FingerprintToken(req.PendingToken), s.now())
	if errors.Is(err, store.ErrNotFound) {
		log.Info("second factor rejected", "reason", "no_active_session", "user_id", claims.UserID)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidOrExpiredSession
	}
	if err != nil {
		s.recorder().SecondFactor(method, OutcomeError)
		return VerifyResult{}, fmt.Errorf("failed to find pending session: %w", err)
	}
	if sess.UserID != claims.UserID {
		log.Warn("second factor rejected", "reason", "session_user_mismatch", "session_id", sess.ID)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidOrExpiredSession
	}
	if sess.Exhausted() {
		s.discardSession(ctx, sess.ID)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidOrExpiredSession
	}

	u, err := s.Users.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.discardSession(ctx, sess.ID)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidOrExpiredSession
	}
	if err != nil {
		s.recorder().SecondFactor(method, OutcomeError)
		return VerifyResult{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !u.TwoFactorEnabled || !u.HasTwoFactorSecret() {
		log.Warn("second factor rejected", "reason", "two_factor_disabled", "user_id", u.ID)
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrInvalidState
	}
	if !u.IsActive {
		s.recorder().SecondFactor(method, OutcomeInvalidSession)
		return VerifyResult{}, ErrAccountDeactivated
	}

	var (
		ok        bool
		remaining *int
	)
	if req.UseBackupCode {
		ok, remaining, err = s.consumeBackupCode(ctx, u, req.Code)
		if err != nil {
			s.recorder().SecondFactor(method, OutcomeError)
			return VerifyResult{}, err
		}
	} else {
		ok = s.TOTP.VerifyCode(req.Code, *u.TwoFactorSecret)
		if ok && !s.Replay.Claim(u.ID, req.Code) {
			log.Warn("second factor rejected", "reason", "totp_replay", "user_id", u.ID)
			ok = false
		}
	}

	if !ok {
		log.Info("second factor rejected", "reason", "wrong_code", "method", method, "user_id", u.ID)
		s.recordFailedAttempt(ctx, sess.ID)
		s.recorder().SecondFactor(method, OutcomeInvalidCode)
		return VerifyResult{}, ErrInvalidCode
	}

	if err := s.Sessions.MarkVerified(ctx, sess.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recorder().SecondFactor(method, OutcomeInvalidSession)
			return VerifyResult{}, ErrInvalidOrExpiredSession
		}
		s.recorder().SecondFactor(method, OutcomeError)
		return VerifyResult{}, fmt.Errorf("failed to mark session verified: %w", err)
	}

	token, err := s.Tokens.IssueFullToken(u.ID, u.Email, true)
	if err != nil {
		s.recorder().SecondFactor(method, OutcomeError)
		return VerifyResult{}, fmt.Errorf("failed to issue token: %w", err)
	}

	if err := s.Sessions.DeleteAllForUser(ctx, u.ID, sess.ID); err != nil {
		log.Warn("failed to purge sibling pending sessions", "user_id", u.ID, "err", err)
	}

	if remaining != nil {
		s.Notifier.BackupCodeUsed(ctx, u, *remaining)
	}

	log.Info("second factor verified", "method", method, "user_id", u.ID)
	s.recorder().SecondFactor(method, OutcomeSuccess)
	return VerifyResult{Token: token, RemainingBackupCodes: remaining}, nil
}

// consumeBackupCode removes code from the stored set with a conditional
// write, so two concurrent uses of one code cannot both succeed.
func (s *AuthService) consumeBackupCode(ctx context.Context, u domain.User, code string) (bool, *int, error) {
	if !otpx.VerifyBackupCode(code, u.BackupCodes) {
		return false, nil, nil
	}

	next := otpx.ConsumeBackupCode(code, u.BackupCodes)
	err := s.Users.ReplaceBackupCodes(ctx, u.ID, u.BackupCodes, next)
	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		slogx.FromContext(ctx).Warn("backup code raced with another update", "user_id", u.ID)
		return false, nil, nil
	case err != nil:
		return false, nil, fmt.Errorf("failed to consume backup code: %w", err)
	}

	n := len(next)
	return true, &n, nil
}

// recordFailedAttempt counts a wrong code and drops the session once it
// has used all its attempts.
func (s *AuthService) recordFailedAttempt(ctx context.Context, sessionID string) {
	attempts, err := s.Sessions.IncrementAttempts(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slogx.FromContext(ctx).Warn("failed to count second factor attempt", "session_id", sessionID, "err", err)
		}
		return
	}
	if attempts >= domain.MaxSecondFactorAttempts {
		slogx.FromContext(ctx).Warn("pending session exhausted", "session_id", sessionID, "attempts", attempts)
		s.discardSession(ctx, sessionID)
	}
}

func (s *AuthService) discardSession(ctx context.Context, sessionID string) {
	if err := s.Sessions.Delete(ctx, sessionID); err != nil {
		slogx.FromContext(ctx).Warn("failed to delete pending session", "session_id", sessionID, "err", err)
	}
}
