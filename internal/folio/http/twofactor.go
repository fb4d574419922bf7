package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/pkg/httpx"
)

// TwoFactorHandler serves enrollment, disablement and the second login step.
type TwoFactorHandler struct {
	Auth *service.AuthService
	Dev  bool
}

// HandleSetup handles POST /api/auth/setup-2fa
//
//	@Summary		Start two-factor enrollment
//	@Description	Generates a TOTP secret and ten backup codes. Two-factor stays disabled until confirmed with enable-2fa.
//	@Tags			Two-Factor
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	SetupTwoFactorResponse
//	@Failure		400	{object}	httpx.ErrorResponse	"2FA is already enabled"
//	@Failure		401	{object}	httpx.ErrorResponse	"Missing or invalid token"
//	@Failure		404	{object}	httpx.ErrorResponse	"User not found"
//	@Router			/api/auth/setup-2fa [post].
func (h *TwoFactorHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	res, err := h.Auth.SetupTwoFactor(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, h.Dev)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SetupTwoFactorResponse{
		QRCode:      res.QRCode,
		Secret:      res.Secret,
		BackupCodes: res.BackupCodes,
		Message:     "Scan the QR code with your authenticator app and verify with a code to enable 2FA",
	})
}

// HandleEnable handles POST /api/auth/enable-2fa
//
//	@Summary	Confirm two-factor enrollment
//	@Tags		Two-Factor
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		EnableTwoFactorRequest	true	"Code from the authenticator app"
//	@Success	200		{object}	SuccessResponse
//	@Failure	400		{object}	httpx.ErrorResponse	"Invalid code, bad format or setup not completed"
//	@Failure	401		{object}	httpx.ErrorResponse	"Missing or invalid token"
//	@Router		/api/auth/enable-2fa [post].
func (h *TwoFactorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	var req EnableTwoFactorRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Auth.ConfirmTwoFactor(r.Context(), userID, strings.TrimSpace(req.Token)); err != nil {
		if errors.Is(err, service.ErrInvalidCodeFormat) {
			httpx.WriteError(w, http.StatusBadRequest, "Invalid verification code format")
			return
		}
		writeServiceError(w, r, err, h.Dev)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Two-Factor Authentication has been enabled successfully",
	})
}

// HandleDisable handles POST /api/auth/disable-2fa
//
//	@Summary		Disable two-factor
//	@Description	Clears the secret and backup codes and cancels pending second-factor logins.
//	@Tags			Two-Factor
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	SuccessResponse
//	@Failure		400	{object}	httpx.ErrorResponse	"2FA is not enabled"
//	@Failure		401	{object}	httpx.ErrorResponse	"Missing or invalid token"
//	@Router			/api/auth/disable-2fa [post].
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	if err := h.Auth.DisableTwoFactor(r.Context(), userID); err != nil {
		writeServiceError(w, r, err, h.Dev)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Two-Factor Authentication has been disabled",
	})
}

// HandleVerify handles POST /api/auth/verify-2fa
//
//	@Summary		Complete a two-factor login
//	@Description	Exchanges the temporary token from login plus a TOTP or backup code for a session token.
//	@Tags			Two-Factor
//	@Accept			json
//	@Produce		json
//	@Param			request	body		VerifyTwoFactorRequest	true	"Code and temporary token"
//	@Success		200		{object}	VerifyTwoFactorResponse
//	@Failure		400		{object}	httpx.ErrorResponse	"Missing fields, bad format, invalid session or invalid code"
//	@Router			/api/auth/verify-2fa [post].
func (h *TwoFactorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || req.TempToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Code and temp token are required")
		return
	}

	res, err := h.Auth.VerifySecondFactor(r.Context(), service.VerifyRequest{
		Code:          req.Code,
		PendingToken:  req.TempToken,
		UseBackupCode: req.UseBackupCode,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCodeFormat) && req.UseBackupCode {
			httpx.WriteError(w, http.StatusBadRequest, "Invalid backup code format")
			return
		}
		writeServiceError(w, r, err, h.Dev)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, VerifyTwoFactorResponse{
		Success:              true,
		Token:                res.Token,
		Message:              "2FA verification successful",
		RemainingBackupCodes: res.RemainingBackupCodes,
	})
}
