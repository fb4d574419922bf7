package http

import (
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type EnableTwoFactorRequest struct {
	Token string `json:"token"` // 6-digit TOTP code
}

type VerifyTwoFactorRequest struct {
	Code          string `json:"code"`
	TempToken     string `json:"tempToken"`
	UseBackupCode bool   `json:"useBackupCode"`
}

// UserResponse is the sanitised account. Password hash, secret and backup
// codes never leave the server.
type UserResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	IsActive         bool      `json:"is_active"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toUserResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		IsActive:         u.IsActive,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	User        UserResponse `json:"user"`
}

type PendingLoginResponse struct {
	Requires2FA bool   `json:"requires2FA"`
	TempToken   string `json:"tempToken"`
	Message     string `json:"message"`
}

type MeResponse struct {
	User UserResponse `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SetupTwoFactorResponse struct {
	QRCode      string   `json:"qrCode"` // data:image/png;base64,...
	Secret      string   `json:"secret"`
	BackupCodes []string `json:"backupCodes"`
	Message     string   `json:"message"`
}

type VerifyTwoFactorResponse struct {
	Success              bool   `json:"success"`
	Token                string `json:"token"`
	Message              string `json:"message"`
	RemainingBackupCodes *int   `json:"remainingBackupCodes,omitempty"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database  string `json:"database"`
	Sessions  string `json:"sessions,omitempty"`
	JWTSecret string `json:"jwt_secret,omitempty"`
}
