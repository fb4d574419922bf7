package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/metrics"
	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/pkg/httpx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
	"github.com/go-chi/cors"

	_ "github.com/aussiebroadwan/folio/api/folio" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// RateLimits are the per-profile limits applied to the routes. Tests raise
// them to keep scenarios from tripping over the strict profile.
type RateLimits struct {
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Lenient  httpx.RateLimitConfig
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		Strict:   httpx.StrictLimit,
		Moderate: httpx.ModerateLimit,
		Lenient:  httpx.LenientLimit,
	}
}

type RouterConfig struct {
	Version string
	Logger  *slog.Logger
	Dev     bool

	// Tokens guards the bearer-authenticated routes.
	Tokens httpx.TokenVerifier
	// SecretSet is reported by /api/health.
	SecretSet bool

	DB       Pinger
	Sessions Pinger // nil when sessions live in DB

	Metrics        *metrics.Metrics // nil disables /metrics and request metrics
	AllowedOrigins []string         // empty disables CORS headers
	Limits         RateLimits
	Swagger        bool
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	cfg       RouterConfig
	startTime time.Time

	AuthService *service.AuthService
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limits == (RateLimits{}) {
		cfg.Limits = DefaultRateLimits()
	}

	r := &Router{
		Mux:       http.NewServeMux(),
		cfg:       cfg,
		startTime: time.Now(),
	}

	// First listed runs outermost.
	r.middlewares = []httpx.Middleware{slogx.HTTPMiddleware(cfg.Logger)}
	if cfg.Metrics != nil {
		r.middlewares = append(r.middlewares, cfg.Metrics.Middleware)
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.middlewares = append(r.middlewares, cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTwoFactor()
	r.registerSystem()

	if r.cfg.Swagger {
		r.Mux.Handle("/swagger/", httpSwagger.Handler())
	}
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title						Folio Admin Authentication API
//	@version					0.1.0
//	@description				Password login, session tokens and TOTP two-factor for the portfolio admin panel.
//	@BasePath					/
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				HS256 session token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Auth: r.AuthService, Dev: r.cfg.Dev}
	limits := r.cfg.Limits

	// Credential endpoints are brute force targets.
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(limits.Strict),
		),
	)
	r.Mux.Handle("POST /api/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(limits.Strict),
		),
	)

	r.Mux.Handle("GET /api/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.AuthnMiddleware(r.cfg.Tokens),
			httpx.RateLimitByUser(limits.Lenient),
		),
	)
	r.Mux.Handle("POST /api/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{Auth: r.AuthService, Dev: r.cfg.Dev}
	limits := r.cfg.Limits

	r.Mux.Handle("POST /api/auth/setup-2fa",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			httpx.AuthnMiddleware(r.cfg.Tokens),
			httpx.RateLimitByUser(limits.Moderate),
		),
	)
	r.Mux.Handle("POST /api/auth/enable-2fa",
		httpx.Chain(http.HandlerFunc(h.HandleEnable),
			httpx.AuthnMiddleware(r.cfg.Tokens),
			httpx.RateLimitByUser(limits.Strict),
		),
	)
	r.Mux.Handle("POST /api/auth/disable-2fa",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			httpx.AuthnMiddleware(r.cfg.Tokens),
			httpx.RateLimitByUser(limits.Moderate),
		),
	)

	// Unauthenticated; the pending token travels in the body.
	r.Mux.Handle("POST /api/auth/verify-2fa",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIP(limits.Strict),
		),
	)
}

func (r *Router) registerSystem() {
	limits := r.cfg.Limits

	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.cfg.Version),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.cfg.Version, r.cfg.DB, r.cfg.Sessions),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
	r.Mux.Handle("GET /api/health",
		httpx.Chain(HealthHandler(r.startTime, r.cfg.Version, r.cfg.SecretSet, r.cfg.DB, r.cfg.Sessions),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)

	if r.cfg.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.cfg.Metrics.Handler())
	}
}
