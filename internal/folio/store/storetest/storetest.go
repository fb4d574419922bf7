// Package storetest holds behaviour tests shared by every store driver.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/aussiebroadwan/folio/pkg/idx"
	"github.com/stretchr/testify/require"
)

// NewUser returns an active user with a unique id and email.
func NewUser(t *testing.T) domain.User {
	t.Helper()
	id := idx.New().String()
	return domain.User{
		ID:           id,
		Email:        "admin-" + id + "@example.com",
		FirstName:    "Ada",
		LastName:     "Admin",
		PasswordHash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		IsActive:     true,
	}
}

// RunUsers exercises a Users implementation.
func RunUsers(t *testing.T, users store.Users) {
	ctx := context.Background()

	// Expects an empty table, so it runs first.
	t.Run("first user only once", func(t *testing.T) {
		first := NewUser(t)
		require.NoError(t, users.CreateFirstUser(ctx, first))

		second := NewUser(t)
		require.ErrorIs(t, users.CreateFirstUser(ctx, second), store.ErrConflict)
		_, err := users.GetUserByID(ctx, second.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := users.GetUserByID(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, first.Email, got.Email)
	})

	t.Run("create and fetch", func(t *testing.T) {
		u := NewUser(t)
		require.NoError(t, users.CreateUser(ctx, u))

		byID, err := users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, u.Email, byID.Email)
		require.Equal(t, "Ada", byID.FirstName)
		require.True(t, byID.IsActive)
		require.False(t, byID.TwoFactorEnabled)
		require.Nil(t, byID.TwoFactorSecret)
		require.Empty(t, byID.BackupCodes)
		require.False(t, byID.CreatedAt.IsZero())

		byEmail, err := users.GetUserByEmail(ctx, u.Email)
		require.NoError(t, err)
		require.Equal(t, u.ID, byEmail.ID)

		empty, err := users.IsEmpty(ctx)
		require.NoError(t, err)
		require.False(t, empty)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := users.GetUserByID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = users.GetUserByEmail(ctx, "missing@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, users.SetActive(ctx, "missing", false), store.ErrNotFound)
		require.ErrorIs(t, users.EnableTwoFactor(ctx, "missing"), store.ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		u := NewUser(t)
		require.NoError(t, users.CreateUser(ctx, u))

		dup := NewUser(t)
		dup.Email = u.Email
		require.ErrorIs(t, users.CreateUser(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("password and activation", func(t *testing.T) {
		u := NewUser(t)
		require.NoError(t, users.CreateUser(ctx, u))

		require.NoError(t, users.UpdatePasswordHash(ctx, u.ID, "new-hash"))
		require.NoError(t, users.SetActive(ctx, u.ID, false))

		got, err := users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, "new-hash", got.PasswordHash)
		require.False(t, got.IsActive)
	})

	t.Run("two factor lifecycle", func(t *testing.T) {
		u := NewUser(t)
		require.NoError(t, users.CreateUser(ctx, u))

		require.ErrorIs(t, users.EnableTwoFactor(ctx, u.ID), store.ErrConflict, "no secret yet")

		codes := []string{"AAAA1111", "BBBB2222"}
		require.NoError(t, users.SaveTwoFactorSetup(ctx, u.ID, "SECRET", codes))
		// setup may be repeated until enabled
		require.NoError(t, users.SaveTwoFactorSetup(ctx, u.ID, "SECRET2", codes))

		got, err := users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.TwoFactorEnabled)
		require.NotNil(t, got.TwoFactorSecret)
		require.Equal(t, "SECRET2", *got.TwoFactorSecret)
		require.Equal(t, codes, got.BackupCodes)

		require.NoError(t, users.EnableTwoFactor(ctx, u.ID))
		require.ErrorIs(t, users.SaveTwoFactorSetup(ctx, u.ID, "OTHER", codes), store.ErrConflict)

		got, err = users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.TwoFactorEnabled)
		require.Equal(t, "SECRET2", *got.TwoFactorSecret)

		require.NoError(t, users.DisableTwoFactor(ctx, u.ID))
		got, err = users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.TwoFactorEnabled)
		require.Nil(t, got.TwoFactorSecret)
		require.Empty(t, got.BackupCodes)
	})

	t.Run("backup code compare and swap", func(t *testing.T) {
		u := NewUser(t)
		require.NoError(t, users.CreateUser(ctx, u))
		codes := []string{"AAAA1111", "BBBB2222", "CCCC3333"}
		require.NoError(t, users.SaveTwoFactorSetup(ctx, u.ID, "SECRET", codes))

		next := []string{"AAAA1111", "CCCC3333"}
		require.NoError(t, users.ReplaceBackupCodes(ctx, u.ID, codes, next))

		// A second writer holding the old set loses.
		require.ErrorIs(t, users.ReplaceBackupCodes(ctx, u.ID, codes, []string{"CCCC3333"}), store.ErrConflict)

		require.NoError(t, users.ReplaceBackupCodes(ctx, u.ID, next, []string{"CCCC3333"}))
		require.NoError(t, users.ReplaceBackupCodes(ctx, u.ID, []string{"CCCC3333"}, nil))

		got, err := users.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, got.BackupCodes)

		require.ErrorIs(t, users.ReplaceBackupCodes(ctx, "missing", nil, nil), store.ErrNotFound)
	})
}

// RunTwoFactorSessions exercises a TwoFactorSessions implementation.
// newUser must persist a user wherever the driver needs one to exist.
func RunTwoFactorSessions(t *testing.T, sessions store.TwoFactorSessions, newUser func(t *testing.T) string) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	session := func(userID string, ttl time.Duration) domain.TwoFactorSession {
		id := idx.New().String()
		return domain.TwoFactorSession{
			ID:        id,
			UserID:    userID,
			TokenHash: "hash-" + id,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
	}

	t.Run("find active", func(t *testing.T) {
		s := session(newUser(t), 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, s))

		got, err := sessions.FindActive(ctx, s.TokenHash, now)
		require.NoError(t, err)
		require.Equal(t, s.ID, got.ID)
		require.Equal(t, s.UserID, got.UserID)
		require.Equal(t, 0, got.Attempts)
		require.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)

		_, err = sessions.FindActive(ctx, "unknown", now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("expired session is not found", func(t *testing.T) {
		s := session(newUser(t), 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, s))

		_, err := sessions.FindActive(ctx, s.TokenHash, s.ExpiresAt)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = sessions.FindActive(ctx, s.TokenHash, s.ExpiresAt.Add(-time.Millisecond))
		require.NoError(t, err)
	})

	t.Run("verified session is not found", func(t *testing.T) {
		s := session(newUser(t), 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, s))
		require.NoError(t, sessions.MarkVerified(ctx, s.ID))

		_, err := sessions.FindActive(ctx, s.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, sessions.MarkVerified(ctx, "missing"), store.ErrNotFound)
	})

	t.Run("verified only once", func(t *testing.T) {
		s := session(newUser(t), 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, s))

		require.NoError(t, sessions.MarkVerified(ctx, s.ID))
		require.ErrorIs(t, sessions.MarkVerified(ctx, s.ID), store.ErrNotFound)
	})

	t.Run("attempts", func(t *testing.T) {
		s := session(newUser(t), 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, s))

		n, err := sessions.IncrementAttempts(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		n, err = sessions.IncrementAttempts(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		got, err := sessions.FindActive(ctx, s.TokenHash, now)
		require.NoError(t, err)
		require.Equal(t, 2, got.Attempts)

		_, err = sessions.IncrementAttempts(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, sessions.Delete(ctx, s.ID))
		_, err = sessions.FindActive(ctx, s.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete all for user", func(t *testing.T) {
		userID := newUser(t)
		otherID := newUser(t)
		keep := session(userID, 10*time.Minute)
		drop := session(userID, 10*time.Minute)
		other := session(otherID, 10*time.Minute)
		for _, s := range []domain.TwoFactorSession{keep, drop, other} {
			require.NoError(t, sessions.Create(ctx, s))
		}

		require.NoError(t, sessions.DeleteAllForUser(ctx, userID, keep.ID))
		_, err := sessions.FindActive(ctx, keep.TokenHash, now)
		require.NoError(t, err)
		_, err = sessions.FindActive(ctx, drop.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = sessions.FindActive(ctx, other.TokenHash, now)
		require.NoError(t, err)

		require.NoError(t, sessions.DeleteAllForUser(ctx, userID, ""))
		_, err = sessions.FindActive(ctx, keep.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		userID := newUser(t)
		live := session(userID, 10*time.Minute)
		require.NoError(t, sessions.Create(ctx, live))

		_, err := sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		_, err = sessions.FindActive(ctx, live.TokenHash, now)
		require.NoError(t, err)

		_, err = sessions.DeleteExpired(ctx, now.Add(11*time.Minute))
		require.NoError(t, err)
		_, err = sessions.FindActive(ctx, live.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
