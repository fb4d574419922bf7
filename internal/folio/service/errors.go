package service

import "errors"

// Input errors are reported before any store access.
var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrInvalidCodeFormat = errors.New("invalid code format")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrWeakPassword      = errors.New("password too short")
)

// Authentication and state errors.
var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password. Logs keep the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account is deactivated")

	// ErrInvalidOrExpiredSession covers unknown, expired, verified and
	// exhausted pending sessions alike.
	ErrInvalidOrExpiredSession = errors.New("invalid or expired session")
	ErrInvalidState            = errors.New("two-factor state mismatch")
	// ErrInvalidCode is returned for a wrong TOTP code and a wrong backup
	// code alike.
	ErrInvalidCode = errors.New("invalid verification code")

	ErrAlreadyEnabled  = errors.New("two-factor already enabled")
	ErrNotEnabled      = errors.New("two-factor not enabled")
	ErrSetupNotStarted = errors.New("two-factor setup not started")

	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRegistrationClosed = errors.New("registration closed")
)
