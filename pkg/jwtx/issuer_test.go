package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newIssuer(t *testing.T, c *clock) *jwtx.Issuer {
	t.Helper()
	iss, err := jwtx.NewIssuer(jwtx.IssuerOptions{
		Secret: []byte("test-secret-test-secret-test-secret"),
		Issuer: "folio-test",
		Now:    c.Now,
	})
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := jwtx.NewIssuer(jwtx.IssuerOptions{})
	require.ErrorIs(t, err, jwtx.ErrMissingSecret)
}

func TestFullToken_RoundTrip(t *testing.T) {
	c := &clock{t: time.Now()}
	iss := newIssuer(t, c)

	tok, err := iss.IssueFullToken("u1", "a@example.com", false)
	require.NoError(t, err)

	claims, err := iss.VerifyFull(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "a@example.com", claims.Email)
	require.False(t, claims.Temporary)
	require.False(t, claims.TwoFactorVerified)
	require.False(t, claims.HasAMR("otp"))
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, c.t.Add(jwtx.DefaultFullTokenTTL), claims.ExpiresAt.Time, time.Second)

	tok, err = iss.IssueFullToken("u1", "a@example.com", true)
	require.NoError(t, err)
	claims, err = iss.VerifyFull(tok)
	require.NoError(t, err)
	require.True(t, claims.TwoFactorVerified)
	require.True(t, claims.HasAMR("otp"))
}

func TestPendingToken_KindSeparation(t *testing.T) {
	c := &clock{t: time.Now()}
	iss := newIssuer(t, c)

	pending, err := iss.IssuePendingToken("u1", "a@example.com")
	require.NoError(t, err)
	full, err := iss.IssueFullToken("u1", "a@example.com", false)
	require.NoError(t, err)

	claims, err := iss.VerifyPending(pending)
	require.NoError(t, err)
	require.True(t, claims.Temporary)

	_, err = iss.VerifyFull(pending)
	require.ErrorIs(t, err, jwtx.ErrWrongKind)
	_, err = iss.VerifyPending(full)
	require.ErrorIs(t, err, jwtx.ErrWrongKind)
}

func TestVerify_ExpiredVersusInvalid(t *testing.T) {
	c := &clock{t: time.Now()}
	iss := newIssuer(t, c)

	pending, err := iss.IssuePendingToken("u1", "a@example.com")
	require.NoError(t, err)

	c.t = c.t.Add(jwtx.DefaultPendingTokenTTL + time.Second)
	_, err = iss.VerifyPending(pending)
	require.ErrorIs(t, err, jwtx.ErrExpired)
	require.NotErrorIs(t, err, jwtx.ErrInvalid)

	_, err = iss.Verify("not.a.jwt")
	require.ErrorIs(t, err, jwtx.ErrInvalid)
	require.NotErrorIs(t, err, jwtx.ErrExpired)
}

func TestVerify_RejectsForeignTokens(t *testing.T) {
	c := &clock{t: time.Now()}
	iss := newIssuer(t, c)

	other, err := jwtx.NewIssuer(jwtx.IssuerOptions{Secret: []byte("another-secret"), Issuer: "folio-test", Now: c.Now})
	require.NoError(t, err)
	forged, err := other.IssueFullToken("u1", "a@example.com", true)
	require.NoError(t, err)
	_, err = iss.Verify(forged)
	require.ErrorIs(t, err, jwtx.ErrInvalid)

	wrongIssuer, err := jwtx.NewIssuer(jwtx.IssuerOptions{Secret: []byte("test-secret-test-secret-test-secret"), Issuer: "elsewhere", Now: c.Now})
	require.NoError(t, err)
	tok, err := wrongIssuer.IssueFullToken("u1", "a@example.com", false)
	require.NoError(t, err)
	_, err = iss.Verify(tok)
	require.ErrorIs(t, err, jwtx.ErrInvalid)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"userId": "u1", "iss": "folio-test", "exp": c.t.Add(time.Hour).Unix(),
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Verify(raw)
	require.ErrorIs(t, err, jwtx.ErrInvalid)
}

func TestVerify_RequiresUserID(t *testing.T) {
	c := &clock{t: time.Now()}
	iss := newIssuer(t, c)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "folio-test", "exp": c.t.Add(time.Hour).Unix(),
	})
	raw, err := tok.SignedString([]byte("test-secret-test-secret-test-secret"))
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	require.ErrorIs(t, err, jwtx.ErrInvalid)
}
