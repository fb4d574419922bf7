package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// TokenVerifier accepts only full session tokens.
type TokenVerifier interface {
	VerifyFull(token string) (jwtx.Claims, error)
}

// AuthnMiddleware requires a valid full session token in the Authorization
// header. Pending tokens are refused here.
func AuthnMiddleware(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "No token provided")
				return
			}

			claims, err := v.VerifyFull(raw)
			if err != nil {
				reason := "invalid"
				switch {
				case errors.Is(err, jwtx.ErrExpired):
					reason = "expired"
				case errors.Is(err, jwtx.ErrWrongKind):
					reason = "wrong_kind"
				}
				log.Warn("bearer token rejected", "reason", reason, "err", err)
				writeBearerError(w, "Invalid or expired token")
				return
			}

			ctx = slogx.With(contextWithClaims(ctx, claims), "user_id", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RFC 6750 style challenge plus a JSON body the admin panel can display.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, desc)
}
