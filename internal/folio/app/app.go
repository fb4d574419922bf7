package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/folio/internal/folio/http"
	"github.com/aussiebroadwan/folio/internal/folio/metrics"
	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/aussiebroadwan/folio/pkg/jwtx"
	"github.com/aussiebroadwan/folio/pkg/mailx"
	"github.com/aussiebroadwan/folio/pkg/otpx"
	"github.com/aussiebroadwan/folio/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every long-lived dependency of the server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	sessions Sessions
	tokens   *jwtx.Issuer
	metrics  *metrics.Metrics

	authService         *service.AuthService
	notifier            *service.Notifier
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "folio",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// New validates cfg and wires the application. A missing JWT secret is
// fatal here rather than on first request.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{cfg: cfg, logger: NewLogger(cfg)}

	cryptox.SetPepperPath(cfg.PepperFile)

	tokens, err := jwtx.NewIssuer(jwtx.IssuerOptions{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.tokens = tokens

	if err := app.initStores(ctx); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("folio starting", "port", app.cfg.Port, "version", BuildVersion,
		"store", app.cfg.StoreDriver, "sessions", app.cfg.SessionBackend)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains requests, waits for queued notifications and closes the
// stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down folio...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "err", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "err", err)
		}
	}

	app.housekeepingService.Stop()
	app.notifier.Wait()

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("folio stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if err := app.sessions.Close(); err != nil {
		app.logger.Error("error closing session backend", "err", err)
		errs = append(errs, err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (app *Application) initStores(ctx context.Context) error {
	db, err := OpenStore(ctx, app.cfg, app.logger)
	if err != nil {
		return err
	}
	app.db = db

	sessions, err := OpenSessions(ctx, app.cfg, db, app.logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	app.sessions = sessions
	return nil
}

func (app *Application) initServices() {
	var sender mailx.Sender = mailx.NopSender{Logger: app.logger}
	if app.cfg.SMTP.Host != "" {
		sender = mailx.NewSMTPSender(app.cfg.SMTP)
		app.logger.Info("security notifications enabled", "smtp_host", app.cfg.SMTP.Host)
	}
	app.notifier = service.NewNotifier(sender, app.logger)
	app.metrics = metrics.New()

	app.authService = &service.AuthService{
		Users:             app.db.Users(),
		Sessions:          app.sessions,
		Tokens:            app.tokens,
		TOTP:              otpx.NewEngine(app.cfg.TOTPIssuer),
		Notifier:          app.notifier,
		Recorder:          app.metrics,
		Replay:            service.NewReplayGuard(0),
		AllowRegistration: app.cfg.AllowRegistration,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.sessions,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	cfg := httpapi.RouterConfig{
		Version:        BuildVersion,
		Logger:         app.logger,
		Dev:            app.cfg.IsDev(),
		Tokens:         app.tokens,
		SecretSet:      app.cfg.JWTSecret != "",
		DB:             app.db,
		Metrics:        app.metrics,
		AllowedOrigins: app.cfg.CORSAllowedOrigins,
		Swagger:        app.cfg.Swagger,
		Limits: httpapi.RateLimits{
			Strict:   app.cfg.RateLimits.Strict,
			Moderate: app.cfg.RateLimits.Moderate,
			Lenient:  app.cfg.RateLimits.Lenient,
		},
	}
	if app.sessions.Pinger != nil {
		cfg.Sessions = app.sessions.Pinger
	}

	router := httpapi.NewRouter(cfg)
	router.AuthService = app.authService
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// AuthService exposes the orchestrator for operator commands.
func (app *Application) AuthService() *service.AuthService { return app.authService }
