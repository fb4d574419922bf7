package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/pkg/httpx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// serviceErrors maps service sentinels onto the status and message the
// admin panel expects. Order matters only for wrapped errors.
var serviceErrors = []struct {
	err     error
	status  int
	message string
}{
	{service.ErrMissingFields, http.StatusBadRequest, "Missing required fields"},
	{service.ErrInvalidCodeFormat, http.StatusBadRequest, "Invalid code format"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "Invalid email address"},
	{service.ErrWeakPassword, http.StatusBadRequest, "Password must be at least 8 characters"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{service.ErrAccountDeactivated, http.StatusUnauthorized, "Account is deactivated"},
	{service.ErrInvalidOrExpiredSession, http.StatusBadRequest, "Invalid or expired session"},
	{service.ErrInvalidState, http.StatusBadRequest, "User not found or 2FA not enabled"},
	{service.ErrInvalidCode, http.StatusBadRequest, "Invalid verification code"},
	{service.ErrAlreadyEnabled, http.StatusBadRequest, "2FA is already enabled"},
	{service.ErrNotEnabled, http.StatusBadRequest, "2FA is not enabled"},
	{service.ErrSetupNotStarted, http.StatusBadRequest, "Setup not completed"},
	{service.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{service.ErrEmailTaken, http.StatusConflict, "User already exists"},
	{service.ErrRegistrationClosed, http.StatusForbidden, "Registration is closed"},
}

// writeServiceError renders err as {"error": ...}. Unknown errors are
// logged and hidden behind a 500 unless dev is set.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			httpx.WriteError(w, e.status, e.message)
			return
		}
	}

	slogx.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)

	resp := httpx.ErrorResponse{Error: "Internal server error"}
	if dev {
		resp.Detail = err.Error()
	}
	httpx.WriteJSON(w, http.StatusInternalServerError, resp)
}
