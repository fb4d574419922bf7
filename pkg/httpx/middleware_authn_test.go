package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/pkg/httpx"
	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestAuthnMiddleware(t *testing.T) {
	now := time.Now()
	iss, err := jwtx.NewIssuer(jwtx.IssuerOptions{Secret: []byte("authn-secret"), Now: func() time.Time { return now }})
	require.NoError(t, err)

	var gotUser string
	h := httpx.AuthnMiddleware(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = httpx.UserIDFromContext(r.Context())
		claims, ok := httpx.ClaimsFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "a@example.com", claims.Email)
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	full, err := iss.IssueFullToken("u1", "a@example.com", false)
	require.NoError(t, err)
	pending, err := iss.IssuePendingToken("u1", "a@example.com")
	require.NoError(t, err)

	t.Run("missing header", func(t *testing.T) {
		rec := call("")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.JSONEq(t, `{"error":"No token provided"}`, rec.Body.String())
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, call("Basic abc").Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := call("Bearer nope")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.JSONEq(t, `{"error":"Invalid or expired token"}`, rec.Body.String())
	})

	t.Run("pending token refused", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, call("Bearer "+pending).Code)
	})

	t.Run("full token accepted", func(t *testing.T) {
		rec := call("Bearer " + full)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "u1", gotUser)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler, mw("first"), mw("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"first", "second"}, order)
}
