package domain

import (
	"strings"
	"time"
)

// User is the admin account that owns the portfolio panel.
type User struct {
	ID           string
	Email        string // unique, stored lower-cased
	FirstName    string
	LastName     string
	PasswordHash string // argon2id PHC string, or bcrypt for accounts carried over

	IsActive         bool
	TwoFactorEnabled bool
	TwoFactorSecret  *string  // base32, set by setup and cleared by disable
	BackupCodes      []string // plaintext, single use

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTwoFactorSecret reports whether setup has stored a secret.
func (u User) HasTwoFactorSecret() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
