package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("jwtx: signing secret is empty")
	ErrInvalid       = errors.New("jwtx: invalid token")
	ErrExpired       = errors.New("jwtx: token expired")
	ErrWrongKind     = errors.New("jwtx: wrong token kind")
)

type IssuerOptions struct {
	Secret     []byte
	Issuer     string
	FullTTL    time.Duration // zero means DefaultFullTokenTTL
	PendingTTL time.Duration // zero means DefaultPendingTokenTTL
	Now        func() time.Time
}

// Issuer signs and verifies HS256 session tokens with one shared secret.
type Issuer struct {
	secret     []byte
	issuer     string
	fullTTL    time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

func NewIssuer(opts IssuerOptions) (*Issuer, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	i := &Issuer{
		secret:     append([]byte(nil), opts.Secret...),
		issuer:     opts.Issuer,
		fullTTL:    opts.FullTTL,
		pendingTTL: opts.PendingTTL,
		now:        opts.Now,
	}
	if i.fullTTL <= 0 {
		i.fullTTL = DefaultFullTokenTTL
	}
	if i.pendingTTL <= 0 {
		i.pendingTTL = DefaultPendingTokenTTL
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// PendingTTL is how long a pending token lives. Pending session records
// use the same lifetime.
func (i *Issuer) PendingTTL() time.Duration { return i.pendingTTL }

// IssueFullToken mints a token that grants access to the admin panel.
func (i *Issuer) IssueFullToken(userID, email string, twoFactorVerified bool) (string, error) {
	c := newClaims(userID, email, i.issuer, i.fullTTL, i.now())
	if twoFactorVerified {
		c.TwoFactorVerified = true
		c.AMR = append(c.AMR, "otp")
	}
	return i.sign(c)
}

// IssuePendingToken mints a short lived token that only identifies the user
// between the password step and the second factor.
func (i *Issuer) IssuePendingToken(userID, email string) (string, error) {
	c := newClaims(userID, email, i.issuer, i.pendingTTL, i.now())
	c.Temporary = true
	return i.sign(c)
}

func (i *Issuer) sign(c Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}

// Verify checks signature, algorithm, issuer and time claims. Expiry is
// reported as ErrExpired, everything else as ErrInvalid.
func (i *Issuer) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: missing userId", ErrInvalid)
	}
	return claims, nil
}

// VerifyFull accepts only full tokens.
func (i *Issuer) VerifyFull(token string) (Claims, error) {
	c, err := i.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if c.Temporary {
		return Claims{}, fmt.Errorf("%w: pending token used as session", ErrWrongKind)
	}
	return c, nil
}

// VerifyPending accepts only pending tokens.
func (i *Issuer) VerifyPending(token string) (Claims, error) {
	c, err := i.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if !c.Temporary {
		return Claims{}, fmt.Errorf("%w: session token used as pending", ErrWrongKind)
	}
	return c, nil
}
