package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/internal/folio/store/drivers/postgres"
	folioredis "github.com/aussiebroadwan/folio/internal/folio/store/drivers/redis"
	"github.com/aussiebroadwan/folio/internal/folio/store/drivers/sqlite"
)

// OpenStore connects the configured relational store and applies
// migrations.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case DriverPostgres:
		st, err = postgres.NewStore(ctx, cfg.DatabaseURL)
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DatabaseFile)
		st, err = sqlite.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	logger.Info("database migrations applied successfully", "driver", cfg.StoreDriver)
	return st, nil
}

// Sessions is the pending session backend plus what it takes to probe and
// release it.
type Sessions struct {
	store.TwoFactorSessions

	// Pinger is set only when sessions live outside the main store.
	Pinger interface{ Ping(context.Context) error }
	close  func() error
}

func (s Sessions) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenSessions returns the configured pending session backend.
func OpenSessions(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (Sessions, error) {
	switch cfg.SessionBackend {
	case SessionsDB:
		return Sessions{TwoFactorSessions: st.TwoFactorSessions()}, nil
	case SessionsRedis:
		rdb, err := folioredis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return Sessions{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sessions := folioredis.NewSessions(rdb, cfg.RedisPrefix)
		logger.Info("pending sessions stored in redis", "prefix", cfg.RedisPrefix)
		return Sessions{TwoFactorSessions: sessions, Pinger: sessions, close: rdb.Close}, nil
	default:
		return Sessions{}, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}
