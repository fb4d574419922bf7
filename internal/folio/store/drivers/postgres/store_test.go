package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/store/drivers/postgres"
	"github.com/aussiebroadwan/folio/internal/folio/store/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway postgres container and returns a
// migrated store. Skipped in -short mode or when Docker is unavailable.
func setupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "folio",
			"POSTGRES_PASSWORD": "folio",
			"POSTGRES_DB":       "folio",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://folio:folio@%s:%s/folio?sslmode=disable", host, port.Port())
	st, err := postgres.NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, st.ApplyMigrations(), "migrations must be idempotent")
	return st
}

func TestPostgresStore(t *testing.T) {
	st := setupPostgres(t)

	t.Run("users", func(t *testing.T) {
		storetest.RunUsers(t, st.Users())
	})

	t.Run("two factor sessions", func(t *testing.T) {
		storetest.RunTwoFactorSessions(t, st.TwoFactorSessions(), func(t *testing.T) string {
			u := storetest.NewUser(t)
			require.NoError(t, st.Users().CreateUser(context.Background(), u))
			return u.ID
		})
	})
}
