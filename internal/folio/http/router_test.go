package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/metrics"
	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/internal/folio/store/drivers/sqlite"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/aussiebroadwan/folio/pkg/httpx"
	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/aussiebroadwan/folio/pkg/otpx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "folio-http")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	*httptest.Server
	clock *testClock
	auth  *service.AuthService
}

func generous() httpx.RateLimitConfig {
	return httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clk := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	tokens, err := jwtx.NewIssuer(jwtx.IssuerOptions{Secret: []byte("http-test-secret"), Now: clk.Now})
	require.NoError(t, err)
	engine := otpx.NewEngine("Folio Test")
	engine.Now = clk.Now

	m := metrics.New()
	auth := &service.AuthService{
		Users:    st.Users(),
		Sessions: st.TwoFactorSessions(),
		Tokens:   tokens,
		TOTP:     engine,
		Recorder: m,
		Replay:   service.NewReplayGuard(0),
		Now:      clk.Now,
	}

	cfg := RouterConfig{
		Version:   "test",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tokens:    tokens,
		SecretSet: true,
		DB:        st,
		Metrics:   m,
		Limits:    RateLimits{Strict: generous(), Moderate: generous(), Lenient: generous()},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	router := NewRouter(cfg)
	router.AuthService = auth
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, clock: clk, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "admin@example.com", "password": "Secret123!", "firstName": "Ada", "lastName": "Lovelace",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["access_token"].(string)
}

func (s *testServer) login(t *testing.T) map[string]any {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "Secret123!",
	})
	require.Equal(t, http.StatusOK, status, body)
	return body
}

// enable2FA runs setup and enable and returns the secret and backup codes.
func (s *testServer) enable2FA(t *testing.T, token string) (string, []string) {
	t.Helper()

	status, setup := s.do(t, http.MethodPost, "/api/auth/setup-2fa", token, nil)
	require.Equal(t, http.StatusOK, status, setup)

	secret := setup["secret"].(string)
	var codes []string
	for _, c := range setup["backupCodes"].([]any) {
		codes = append(codes, c.(string))
	}
	require.Len(t, codes, 10)
	require.True(t, strings.HasPrefix(setup["qrCode"].(string), "data:image/png;base64,"))

	code, err := otpx.GenerateCode(secret, s.clock.Now())
	require.NoError(t, err)
	status, body := s.do(t, http.MethodPost, "/api/auth/enable-2fa", token, map[string]string{"token": code})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, true, body["success"])
	return secret, codes
}

func TestLoginWithoutTwoFactor(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.register(t)

	body := srv.login(t)
	require.NotEmpty(t, body["access_token"])
	require.NotContains(t, body, "tempToken")

	user := body["user"].(map[string]any)
	require.Equal(t, "admin@example.com", user["email"])
	require.Equal(t, false, user["two_factor_enabled"])
	require.NotContains(t, user, "password_hash")

	status, me := srv.do(t, http.MethodGet, "/api/auth/me", body["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Ada", me["user"].(map[string]any)["first_name"])
}

func TestTwoFactorLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.register(t)
	_, backup := srv.enable2FA(t, token)

	// Login now stops at the second factor.
	body := srv.login(t)
	require.Equal(t, true, body["requires2FA"])
	require.NotContains(t, body, "access_token")
	temp := body["tempToken"].(string)

	// The pending token is not a bearer token.
	status, _ := srv.do(t, http.MethodGet, "/api/auth/me", temp, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, verified := srv.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"code": backup[0], "tempToken": temp, "useBackupCode": true,
	})
	require.Equal(t, http.StatusOK, status, verified)
	require.Equal(t, true, verified["success"])
	require.EqualValues(t, 9, verified["remainingBackupCodes"])

	status, _ = srv.do(t, http.MethodGet, "/api/auth/me", verified["token"].(string), nil)
	require.Equal(t, http.StatusOK, status)

	// Replaying the consumed code against a fresh login fails.
	temp = srv.login(t)["tempToken"].(string)
	status, body = srv.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"code": backup[0], "tempToken": temp, "useBackupCode": true,
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid verification code", body["error"])
}

func TestVerifyWithTOTP(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.register(t)
	secret, _ := srv.enable2FA(t, token)

	temp := srv.login(t)["tempToken"].(string)
	srv.clock.Advance(time.Minute)
	code, err := otpx.GenerateCode(secret, srv.clock.Now())
	require.NoError(t, err)

	status, body := srv.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{"code": code, "tempToken": temp})
	require.Equal(t, http.StatusOK, status, body)
	require.NotContains(t, body, "remainingBackupCodes")
}

func TestVerifyExpiredSession(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.register(t)
	secret, _ := srv.enable2FA(t, token)

	temp := srv.login(t)["tempToken"].(string)
	srv.clock.Advance(10*time.Minute + time.Second)

	code, err := otpx.GenerateCode(secret, srv.clock.Now())
	require.NoError(t, err)
	status, body := srv.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{"code": code, "tempToken": temp})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid or expired session", body["error"])
}

func TestDisableInvalidatesPendingLogin(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.register(t)
	secret, _ := srv.enable2FA(t, token)

	temp := srv.login(t)["tempToken"].(string)

	status, body := srv.do(t, http.MethodPost, "/api/auth/disable-2fa", token, nil)
	require.Equal(t, http.StatusOK, status, body)

	code, err := otpx.GenerateCode(secret, srv.clock.Now())
	require.NoError(t, err)
	status, body = srv.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{"code": code, "tempToken": temp})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid or expired session", body["error"])

	status, body = srv.do(t, http.MethodPost, "/api/auth/disable-2fa", token, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "2FA is not enabled", body["error"])
}

func TestErrorResponses(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.register(t)

	tests := []struct {
		name    string
		method  string
		path    string
		bearer  string
		body    any
		status  int
		message string
	}{
		{"login missing fields", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@example.com"}, 400, "Email and password are required"},
		{"login wrong password", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@example.com", "password": "nope-nope"}, 401, "Invalid credentials"},
		{"login unknown email", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "x@example.com", "password": "Secret123!"}, 401, "Invalid credentials"},
		{"register closed", http.MethodPost, "/api/auth/register", "", map[string]string{"email": "b@example.com", "password": "Secret123!", "firstName": "B", "lastName": "C"}, 403, "Registration is closed"},
		{"register missing fields", http.MethodPost, "/api/auth/register", "", map[string]string{"email": "b@example.com"}, 400, "All fields are required"},
		{"me without token", http.MethodGet, "/api/auth/me", "", nil, 401, "No token provided"},
		{"me with garbage token", http.MethodGet, "/api/auth/me", "garbage", nil, 401, "Invalid or expired token"},
		{"enable before setup", http.MethodPost, "/api/auth/enable-2fa", token, map[string]string{"token": "123456"}, 400, "Setup not completed"},
		{"enable bad format", http.MethodPost, "/api/auth/enable-2fa", token, map[string]string{"token": "12"}, 400, "Invalid verification code format"},
		{"verify missing fields", http.MethodPost, "/api/auth/verify-2fa", "", map[string]string{"code": "123456"}, 400, "Code and temp token are required"},
		{"verify bad totp format", http.MethodPost, "/api/auth/verify-2fa", "", map[string]string{"code": "12345a", "tempToken": "x"}, 400, "Invalid code format"},
		{"verify bad backup format", http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{"code": "123", "tempToken": "x", "useBackupCode": true}, 400, "Invalid backup code format"},
		{"verify unknown session", http.MethodPost, "/api/auth/verify-2fa", "", map[string]string{"code": "123456", "tempToken": "x"}, 400, "Invalid or expired session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := srv.do(t, tt.method, tt.path, tt.bearer, tt.body)
			require.Equal(t, tt.status, status, body)
			require.Equal(t, tt.message, body["error"])
		})
	}
}

func TestWriteServiceError_Internal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	rec := httptest.NewRecorder()
	writeServiceError(rec, req, errors.New("database on fire"), false)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "database on fire")

	rec = httptest.NewRecorder()
	writeServiceError(rec, req, errors.New("database on fire"), true)
	require.Contains(t, rec.Body.String(), "database on fire")
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Logout successful", body["message"])
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	status, body = srv.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["checks"].(map[string]any)["database"])

	status, body = srv.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "set", body["checks"].(map[string]any)["jwt_secret"])

	down := newTestServer(t, func(c *RouterConfig) {
		c.Sessions = downPinger{}
		c.SecretSet = false
	})
	status, body = down.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "degraded", body["status"])

	status, body = down.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "missing", body["checks"].(map[string]any)["jwt_secret"])
}

func TestLoginRateLimited(t *testing.T) {
	srv := newTestServer(t, func(c *RouterConfig) {
		c.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 2}
	})

	creds := map[string]string{"email": "x@example.com", "password": "whatever1"}
	for range 2 {
		status, _ := srv.do(t, http.MethodPost, "/api/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := srv.do(t, http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "Too many requests. Please try again later.", body["error"])
}

func TestCORSAndMetrics(t *testing.T) {
	srv := newTestServer(t, func(c *RouterConfig) {
		c.AllowedOrigins = []string{"https://admin.example.com"}
	})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "https://admin.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "x@example.com", "password": "whatever1"})

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `folio_login_attempts_total{outcome="invalid_credentials"} 1`)
	require.Contains(t, string(raw), `route="POST /api/auth/login"`)
}

func TestSwaggerDisabledByDefault(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := srv.Client().Get(srv.URL + "/swagger/index.html")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	docs := newTestServer(t, func(c *RouterConfig) { c.Swagger = true })
	resp, err = docs.Client().Get(docs.URL + "/swagger/doc.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
