package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/folio/pkg/httpx"
)

// Pinger is anything that can report whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LivezHandler godoc
//
//	@Summary		Liveness probe
//	@Description	Always 200 while the process is serving.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness probe
//	@Description	Checks the user store and, when separate, the pending session backend.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse	"A dependency is unreachable"
//	@Router			/readyz [get].
func ReadyzHandler(startTime time.Time, version string, db, sessions Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, status := checkHealth(r.Context(), startTime, version, db, sessions)
		httpx.WriteJSON(w, status, resp)
	}
}

// HealthHandler godoc
//
//	@Summary		Configuration report
//	@Description	Readiness plus whether the token signing secret is configured.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		500	{object}	HealthResponse	"Misconfigured or a dependency is unreachable"
//	@Router			/api/health [get].
func HealthHandler(startTime time.Time, version string, secretSet bool, db, sessions Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, status := checkHealth(r.Context(), startTime, version, db, sessions)
		resp.Checks.JWTSecret = "set"
		if !secretSet {
			resp.Checks.JWTSecret = "missing"
			resp.Status = "degraded"
		}
		if resp.Status != "ok" {
			status = http.StatusInternalServerError
		}
		httpx.WriteJSON(w, status, resp)
	}
}

func checkHealth(ctx context.Context, startTime time.Time, version string, db, sessions Pinger) (HealthResponse, int) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := &HealthChecks{Database: "ok"}
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(startTime).String(),
		Version: version,
		Checks:  checks,
	}
	status := http.StatusOK

	if err := db.Ping(ctx); err != nil {
		checks.Database = "error: " + err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if sessions != nil {
		checks.Sessions = "ok"
		if err := sessions.Ping(ctx); err != nil {
			checks.Sessions = "error: " + err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	return resp, status
}
