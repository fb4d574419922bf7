// Package otpx wraps RFC 6238 time based one-time passwords and the
// single-use backup codes issued alongside them.
package otpx

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the TOTP step length in seconds.
	Period = 30
	// Skew is how many steps either side of now a code stays valid.
	Skew = 2
	// SecretSize is the number of random bytes in a shared secret (256 bits).
	SecretSize = 32
	// DefaultIssuer labels enrollments when no issuer is configured.
	DefaultIssuer = "Portfolio Admin"
)

// ErrEncoding is returned when an enrollment URI cannot be produced or
// rendered.
var ErrEncoding = errors.New("otpx: cannot encode enrollment")

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Enrollment is a freshly generated shared secret and the otpauth:// URI
// an authenticator app imports.
type Enrollment struct {
	Secret  string
	URI     string
	Issuer  string
	Account string
}

// Engine generates and checks TOTP codes for one issuer.
type Engine struct {
	Issuer string
	// Now is the clock used for verification; nil means time.Now.
	Now func() time.Time
}

func NewEngine(issuer string) *Engine {
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultIssuer
	}
	return &Engine{Issuer: issuer}
}

// AccountLabel is the account name shown in authenticator apps.
func AccountLabel(email string) string {
	return fmt.Sprintf("Admin (%s)", email)
}

// GenerateSecret creates a new random secret for the given account label.
func (e *Engine) GenerateSecret(label string) (Enrollment, error) {
	if strings.TrimSpace(label) == "" {
		return Enrollment{}, fmt.Errorf("%w: empty account label", ErrEncoding)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Issuer,
		AccountName: label,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return Enrollment{
		Secret:  key.Secret(),
		URI:     key.URL(),
		Issuer:  key.Issuer(),
		Account: key.AccountName(),
	}, nil
}

// VerifyCode reports whether code is valid for secret at the current time,
// tolerating Skew steps of clock drift. Malformed input is simply invalid.
func (e *Engine) VerifyCode(code, secret string) bool {
	if !IsValidCodeFormat(code) || strings.TrimSpace(secret) == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, e.now(), validateOpts)
	return err == nil && ok
}

// GenerateCode returns the code for secret at t. Used by operator tooling
// and tests.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), validateOpts)
}

// IsValidCodeFormat reports whether code is exactly six ASCII digits.
func IsValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}
