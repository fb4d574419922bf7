package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuthCounters(t *testing.T) {
	m := New()

	m.LoginAttempt("success")
	m.LoginAttempt("success")
	m.LoginAttempt("invalid_credentials")
	m.SecondFactor("backup_code", "success")

	require.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("invalid_credentials")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.secondFactors.WithLabelValues("backup_code", "success")))
}

func TestMiddleware(t *testing.T) {
	m := New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)

	for _, path := range []string{"/items/1", "/items/2"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /items/{id}", "418")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.httpInflight))
}

func TestHandler(t *testing.T) {
	m := New()
	m.LoginAttempt("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `folio_login_attempts_total{outcome="success"} 1`))
}
