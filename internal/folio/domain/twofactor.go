package domain

import "time"

// MaxSecondFactorAttempts is how many wrong codes a pending session
// tolerates before it is discarded.
const MaxSecondFactorAttempts = 5

// TwoFactorSession links a pending token to a user between the password
// step and the second factor.
type TwoFactorSession struct {
	ID        string
	UserID    string
	TokenHash string // cryptox.FingerprintToken of the pending token
	ExpiresAt time.Time
	Verified  bool
	Attempts  int
	CreatedAt time.Time
}

// Active reports whether the session can still complete a login at now.
func (s TwoFactorSession) Active(now time.Time) bool {
	return !s.Verified && s.ExpiresAt.After(now)
}

// Exhausted reports whether the session has used up its attempts.
func (s TwoFactorSession) Exhausted() bool {
	return s.Attempts >= MaxSecondFactorAttempts
}
