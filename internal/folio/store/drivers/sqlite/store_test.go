package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store/drivers/sqlite"
	"github.com/aussiebroadwan/folio/internal/folio/store/storetest"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, st.Ping(context.Background()))

	empty, err := st.Users().IsEmpty(context.Background())
	require.NoError(t, err)
	require.True(t, empty)
}

func TestUsers(t *testing.T) {
	storetest.RunUsers(t, newTestStore(t).Users())
}

func TestTwoFactorSessions(t *testing.T) {
	st := newTestStore(t)
	storetest.RunTwoFactorSessions(t, st.TwoFactorSessions(), func(t *testing.T) string {
		u := storetest.NewUser(t)
		require.NoError(t, st.Users().CreateUser(context.Background(), u))
		return u.ID
	})
}

func TestTwoFactorSessions_RequiresExistingUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.TwoFactorSessions().Create(ctx, domain.TwoFactorSession{
		ID:        "orphan",
		UserID:    "no-such-user",
		TokenHash: "h",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	require.Error(t, err, "foreign keys must be enforced")
}
