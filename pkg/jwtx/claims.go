package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultFullTokenTTL is the lifetime of a token that grants panel access.
	DefaultFullTokenTTL = 24 * time.Hour

	// DefaultPendingTokenTTL is the lifetime of the token handed out between
	// the password step and the second factor.
	DefaultPendingTokenTTL = 10 * time.Minute
)

// Claims carried by both token kinds. The JSON names match what the admin
// panel frontend already reads.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"userId"`
	Email  string `json:"email"`

	// Temporary marks a pending token. It is only good for completing the
	// second factor.
	Temporary bool `json:"temp,omitempty"`

	// TwoFactorVerified is set on full tokens minted after a second factor.
	TwoFactorVerified bool `json:"twoFactorVerified,omitempty"`

	// Authentication Methods Reference: "pwd", plus "otp" after a second factor.
	AMR []string `json:"amr,omitempty"`
}

func newClaims(userID, email, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		UserID: userID,
		Email:  email,
		AMR:    []string{"pwd"},
	}
}

// HasAMR reports whether the token records the given authentication method.
func (c Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
