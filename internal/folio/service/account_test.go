package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterRequest{Email: "First@Example.com", Password: testPassword, FirstName: " Ada "})
	require.NoError(t, err)
	require.Equal(t, "first@example.com", res.User.Email)
	require.Equal(t, "Ada", res.User.FirstName)
	require.True(t, res.User.IsActive)
	require.False(t, res.User.TwoFactorEnabled)

	claims, err := f.svc.Tokens.VerifyFull(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, claims.UserID)

	_, err = f.svc.Register(ctx, RegisterRequest{Email: "second@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrRegistrationClosed, "only the first account registers by default")

	f.svc.AllowRegistration = true
	_, err = f.svc.Register(ctx, RegisterRequest{Email: "second@example.com", Password: testPassword})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterRequest{Email: "SECOND@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrEmailTaken)
}

// gatedUsers holds each IsEmpty caller until all of them have seen the
// empty table.
type gatedUsers struct {
	store.Users
	gate sync.WaitGroup
}

func (g *gatedUsers) IsEmpty(ctx context.Context) (bool, error) {
	empty, err := g.Users.IsEmpty(ctx)
	g.gate.Done()
	g.gate.Wait()
	return empty, err
}

func TestRegister_ConcurrentFirstAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 3
	gated := &gatedUsers{Users: f.svc.Users}
	gated.gate.Add(n)
	f.svc.Users = gated

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, RegisterRequest{
				Email:    fmt.Sprintf("admin%d@example.com", i),
				Password: testPassword,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		require.ErrorIs(t, err, ErrRegistrationClosed)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"missing email", RegisterRequest{Password: testPassword}, ErrMissingFields},
		{"missing password", RegisterRequest{Email: "a@example.com"}, ErrMissingFields},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: testPassword}, ErrInvalidEmail},
		{"display name form", RegisterRequest{Email: "Ada <a@example.com>", Password: testPassword}, ErrInvalidEmail},
		{"short password", RegisterRequest{Email: "a@example.com", Password: "short"}, ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateUser(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "admin@example.com")

	got, err := f.svc.Me(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	_, err = f.svc.Me(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestResetTwoFactor(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "admin@example.com")
	ctx := context.Background()

	require.ErrorIs(t, f.svc.ResetTwoFactor(ctx, u.Email), ErrNotEnabled)
	require.ErrorIs(t, f.svc.ResetTwoFactor(ctx, "nobody@example.com"), ErrUserNotFound)

	f.enableTwoFactor(t, u.ID)
	f.pendingLogin(t, u.Email)

	require.NoError(t, f.svc.ResetTwoFactor(ctx, "ADMIN@example.com"))
	require.Zero(t, f.drainSessions(t))

	res, err := f.svc.Login(ctx, u.Email, testPassword)
	require.NoError(t, err)
	require.False(t, res.RequiresTwoFactor)

	// An abandoned setup can be cleared as well.
	_, err = f.svc.SetupTwoFactor(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetTwoFactor(ctx, u.Email))
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "admin@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.SetActive(ctx, u.Email, false))
	_, err := f.svc.Login(ctx, u.Email, testPassword)
	require.ErrorIs(t, err, ErrAccountDeactivated)

	require.NoError(t, f.svc.SetActive(ctx, u.Email, true))
	_, err = f.svc.Login(ctx, u.Email, testPassword)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.SetActive(ctx, "nobody@example.com", true), ErrUserNotFound)
}
