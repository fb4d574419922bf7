package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/folio/pkg/httpx"
	"github.com/aussiebroadwan/folio/pkg/mailx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	SessionsDB    = "db"
	SessionsRedis = "redis"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

type Config struct {
	JWTSecret   string // Required: HS256 signing secret
	TokenIssuer string // Optional: iss claim (default: folio)
	TOTPIssuer  string // Optional: label shown in authenticator apps

	StoreDriver    string // sqlite or postgres (default: sqlite)
	DatabaseFile   string // SQLite file (default: folio.db)
	DatabaseURL    string // Postgres DSN, required for the postgres driver
	SessionBackend string // db or redis (default: db)
	RedisURL       string // Required for the redis session backend
	RedisPrefix    string // Key prefix for pending sessions (default: folio)
	PepperFile     string // Password pepper file (default: pepper)

	AllowRegistration  bool     // Allow registration after the first account
	CORSAllowedOrigins []string // Admin panel origins; empty disables CORS
	Swagger            bool     // Serve /swagger/ (default: true in dev)

	SMTP       mailx.SMTPConfig // Notifications are skipped when Host is empty
	AdminEmail string           // Default account for CLI user commands

	RateLimits struct {
		Strict   httpx.RateLimitConfig
		Moderate httpx.RateLimitConfig
		Lenient  httpx.RateLimitConfig
	}

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json or text (default: json)
	Port                 int           // HTTP port (default: 8080)
	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 1h
}

// LoadConfig reads .env when present, then the YAML file named by
// FOLIO_CONFIG_FILE, then the environment. Environment values win.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	src, err := newSource(os.Getenv("FOLIO_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		JWTSecret:   src.get("JWT_SECRET"),
		TokenIssuer: src.getOrDefault("AUTH_ISSUER", "folio"),
		TOTPIssuer:  src.getOrDefault("TOTP_ISSUER", "Portfolio Admin"),

		StoreDriver:    strings.ToLower(src.getOrDefault("FOLIO_STORE_DRIVER", DriverSQLite)),
		DatabaseFile:   src.getOrDefault("FOLIO_DATABASE_FILE", "folio.db"),
		DatabaseURL:    src.get("DATABASE_URL"),
		SessionBackend: strings.ToLower(src.getOrDefault("FOLIO_SESSION_BACKEND", SessionsDB)),
		RedisURL:       src.get("REDIS_URL"),
		RedisPrefix:    src.getOrDefault("FOLIO_REDIS_PREFIX", "folio"),
		PepperFile:     src.getOrDefault("FOLIO_PEPPER_FILE", "pepper"),

		AllowRegistration:  src.getBoolOrDefault("FOLIO_ALLOW_REGISTRATION", false),
		CORSAllowedOrigins: src.getList("CORS_ALLOWED_ORIGINS"),

		SMTP: mailx.SMTPConfig{
			Host:     src.get("SMTP_HOST"),
			Port:     src.getIntOrDefault("SMTP_PORT", 587),
			Username: src.get("SMTP_USER"),
			Password: src.get("SMTP_PASS"),
			From:     src.get("SMTP_FROM"),
			TLSMode:  src.getOrDefault("SMTP_TLS", "auto"),
		},
		AdminEmail: src.get("ADMIN_EMAIL"),

		Env:                  src.getOrDefault("ENV", "dev"),
		LogLevel:             src.getOrDefault("LOG_LEVEL", "info"),
		LogFormat:            src.getOrDefault("LOG_FORMAT", "json"),
		Port:                 src.getIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  src.getDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: src.getDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
	}
	cfg.Swagger = src.getBoolOrDefault("FOLIO_SWAGGER", cfg.IsDev())
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	cfg.RateLimits.Strict = httpx.RateLimitFromEnv("STRICT", httpx.StrictLimit)
	cfg.RateLimits.Moderate = httpx.RateLimitFromEnv("MODERATE", httpx.ModerateLimit)
	cfg.RateLimits.Lenient = httpx.RateLimitFromEnv("LENIENT", httpx.LenientLimit)

	return cfg, nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

// Validate reports configuration the server cannot start with. CLI commands
// that never sign tokens may skip it.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if err := c.ValidateStorage(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateStorage checks only the store and session backend settings.
func (c Config) ValidateStorage() error {
	var errs []error

	switch c.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FOLIO_STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.SessionBackend {
	case SessionsDB:
	case SessionsRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FOLIO_SESSION_BACKEND %q", c.SessionBackend))
	}

	return errors.Join(errs...)
}

// source resolves keys from the environment, falling back to values read
// from the optional YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return src, fmt.Errorf("parse config file %s: %w", path, err)
	}

	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			src.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			src.file[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}
	return src, nil
}

func (s source) get(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getIntOrDefault(key string, defaultValue int) int {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func (s source) getBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(s.get(key)); err == nil {
		return b
	}
	return defaultValue
}

func (s source) getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

func (s source) getList(key string) []string {
	var out []string
	for _, part := range strings.Split(s.get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
