package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/pkg/httpx"
)

// AuthHandler serves password login, registration and the current user.
type AuthHandler struct {
	Auth *service.AuthService
	Dev  bool
}

// HandleLogin handles POST /api/auth/login
//
//	@Summary		Sign in with email and password
//	@Description	Returns a session token, or a temporary token when the account has two-factor enabled.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		LoginRequest			true	"Credentials"
//	@Success		200		{object}	LoginResponse			"Signed in, or PendingLoginResponse when a second factor is required"
//	@Failure		400		{object}	httpx.ErrorResponse		"Missing fields"
//	@Failure		401		{object}	httpx.ErrorResponse		"Invalid credentials or deactivated account"
//	@Router			/api/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, h.Dev)
		return
	}

	if res.RequiresTwoFactor {
		httpx.WriteJSON(w, http.StatusOK, PendingLoginResponse{
			Requires2FA: true,
			TempToken:   res.PendingToken,
			Message:     "2FA verification required",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		User:        toUserResponse(res.User),
	})
}

// HandleRegister handles POST /api/auth/register
//
//	@Summary		Create an admin account
//	@Description	Open for the first account, afterwards only when registration is enabled.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RegisterRequest		true	"New account"
//	@Success		201		{object}	LoginResponse		"Account created and signed in"
//	@Failure		400		{object}	httpx.ErrorResponse	"Missing or invalid fields"
//	@Failure		403		{object}	httpx.ErrorResponse	"Registration closed"
//	@Failure		409		{object}	httpx.ErrorResponse	"User already exists"
//	@Router			/api/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" ||
		strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	res, err := h.Auth.Register(r.Context(), service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(w, r, err, h.Dev)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, LoginResponse{
		AccessToken: res.AccessToken,
		User:        toUserResponse(res.User),
	})
}

// HandleMe handles GET /api/auth/me
//
//	@Summary	Current user
//	@Tags		Auth
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	MeResponse
//	@Failure	401	{object}	httpx.ErrorResponse	"Missing or invalid token"
//	@Failure	404	{object}	httpx.ErrorResponse	"User not found"
//	@Router		/api/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	u, err := h.Auth.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, h.Dev)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, MeResponse{User: toUserResponse(u)})
}

// HandleLogout handles POST /api/auth/logout. Tokens are stateless, so the
// client simply forgets its token.
//
//	@Summary	Sign out
//	@Tags		Auth
//	@Produce	json
//	@Success	200	{object}	MessageResponse
//	@Router		/api/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logout successful"})
}
