package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	folioredis "github.com/aussiebroadwan/folio/internal/folio/store/drivers/redis"
	"github.com/aussiebroadwan/folio/internal/folio/store/storetest"
	"github.com/aussiebroadwan/folio/pkg/idx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessions(t *testing.T) {
	_, rdb := newTestRedis(t)
	sessions := folioredis.NewSessions(rdb, "test")

	storetest.RunTwoFactorSessions(t, sessions, func(t *testing.T) string {
		return idx.New().String()
	})
}

func TestSessions_DuplicateTokenHash(t *testing.T) {
	_, rdb := newTestRedis(t)
	sessions := folioredis.NewSessions(rdb, "")
	ctx := context.Background()

	s := domain.TwoFactorSession{ID: "a", UserID: "u", TokenHash: "h", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, sessions.Create(ctx, s))

	s.ID = "b"
	require.ErrorIs(t, sessions.Create(ctx, s), store.ErrAlreadyExists)
}

func TestSessions_RedisExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	sessions := folioredis.NewSessions(rdb, "")
	ctx := context.Background()

	expires := time.Now().Add(10 * time.Minute)
	s := domain.TwoFactorSession{ID: "a", UserID: "u", TokenHash: "h", ExpiresAt: expires}
	require.NoError(t, sessions.Create(ctx, s))
	require.True(t, mr.Exists("folio:tfs:s:a"))

	mr.FastForward(12 * time.Minute)
	require.False(t, mr.Exists("folio:tfs:s:a"))
	require.False(t, mr.Exists("folio:tfs:t:h"))

	_, err := sessions.FindActive(ctx, "h", time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_TTLFollowsSessionClock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	sessions := folioredis.NewSessions(rdb, "")
	ctx := context.Background()

	// A clock far behind the wall clock must not shrink the key TTL.
	created := time.Date(2001, time.January, 1, 12, 0, 0, 0, time.UTC)
	s := domain.TwoFactorSession{
		ID:        "a",
		UserID:    "u",
		TokenHash: "h",
		CreatedAt: created,
		ExpiresAt: created.Add(10 * time.Minute),
	}
	require.NoError(t, sessions.Create(ctx, s))

	require.Equal(t, 11*time.Minute, mr.TTL("folio:tfs:s:a"))
	require.Equal(t, 11*time.Minute, mr.TTL("folio:tfs:t:h"))

	got, err := sessions.FindActive(ctx, "h", created.Add(5*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := folioredis.NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = folioredis.NewClient(context.Background(), "not-a-url")
	require.Error(t, err)
}
