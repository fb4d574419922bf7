package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		JWTSecret:      "app-test-secret",
		TokenIssuer:    "folio-test",
		TOTPIssuer:     "Folio Test",
		StoreDriver:    DriverSQLite,
		DatabaseFile:   filepath.Join(dir, "folio.db"),
		SessionBackend: SessionsDB,
		PepperFile:     filepath.Join(dir, "pepper"),
		Env:            "test",
		LogLevel:       "error",
		LogFormat:      "text",
		Port:           8080,
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestNew_ServesRoutes(t *testing.T) {
	app, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeStores() })

	body, err := json.Marshal(map[string]string{
		"email": "admin@example.com", "password": "Secret123!", "firstName": "Ada", "lastName": "Lovelace",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.SessionBackend = SessionsRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisPrefix = "apptest"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeStores() })
	require.NotNil(t, app.sessions.Pinger)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sessions":"ok"`)
}

func TestOperator(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""
	ctx := context.Background()

	op, err := NewOperator(ctx, cfg)
	require.NoError(t, err)

	u, err := op.Auth.CreateUser(ctx, service.RegisterRequest{Email: "admin@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	require.ErrorIs(t, op.Auth.ResetTwoFactor(ctx, u.Email), service.ErrNotEnabled)
	require.NoError(t, op.Auth.SetActive(ctx, u.Email, false))
	require.NoError(t, op.Close())

	// The account survives in the database file.
	op, err = NewOperator(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = op.Close() })

	got, err := op.Auth.Me(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}
