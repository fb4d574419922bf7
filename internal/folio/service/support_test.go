package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/pkg/mailx"
	"github.com/stretchr/testify/require"
)

func TestReplayGuard(t *testing.T) {
	g := NewReplayGuard(time.Minute)

	require.True(t, g.Claim("u1", "123456"))
	require.False(t, g.Claim("u1", "123456"))
	require.True(t, g.Claim("u2", "123456"), "codes are tracked per user")

	var none *ReplayGuard
	require.True(t, none.Claim("u1", "123456"))
	require.True(t, none.Claim("u1", "123456"))
}

type failingSender struct{}

func (failingSender) Send(context.Context, mailx.Message) error { return errors.New("smtp down") }

func TestNotifier(t *testing.T) {
	u := domain.User{ID: "u1", Email: "admin@example.com"}

	t.Run("delivers to the account address", func(t *testing.T) {
		box := &outbox{}
		n := NewNotifier(box, nil)

		ctx, cancel := context.WithCancel(context.Background())
		n.BackupCodeUsed(ctx, u, 0)
		cancel()
		n.Wait()

		require.Len(t, box.sent, 1)
		require.Equal(t, "admin@example.com", box.sent[0].To)
		require.Contains(t, box.sent[0].Text, "0 backup codes left")
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		n := NewNotifier(failingSender{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		n.TwoFactorDisabled(context.Background(), u)
		n.Wait()
	})

	t.Run("nil notifier is a no-op", func(t *testing.T) {
		var n *Notifier
		n.TwoFactorEnabled(context.Background(), u)
		n.Wait()
	})
}

func TestHousekeeping_Cleanup(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "admin@example.com")
	f.enableTwoFactor(t, u.ID)
	f.pendingLogin(t, u.Email)
	f.pendingLogin(t, u.Email)

	hk := NewHousekeepingService(f.svc.Sessions, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Now = f.clock.Now

	require.Zero(t, hk.Cleanup(context.Background()))

	f.clock.Advance(11 * time.Minute)
	require.EqualValues(t, 2, hk.Cleanup(context.Background()))
}

func TestHousekeeping_StartStop(t *testing.T) {
	f := newFixture(t)
	hk := NewHousekeepingService(f.svc.Sessions, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Millisecond)

	hk.Start()
	time.Sleep(5 * time.Millisecond)
	hk.Stop()
}
