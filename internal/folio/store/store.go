package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict is returned when a conditional update finds the row in a
	// different state than the caller expected.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface implemented by the sqlite and
// postgres drivers.
type Store interface {
	Users() Users
	TwoFactorSessions() TwoFactorSessions

	ApplyMigrations() error

	// Close releases the underlying connection pool.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already normalised address.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts u. A duplicate email yields ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	// CreateFirstUser inserts u only when no account exists yet, atomically
	// with that check. Returns ErrConflict once the table has a row.
	CreateFirstUser(ctx context.Context, u domain.User) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetActive(ctx context.Context, id string, active bool) error

	// SaveTwoFactorSetup stores a new secret and backup codes while 2FA is
	// still disabled. Returns ErrConflict when 2FA is already enabled.
	SaveTwoFactorSetup(ctx context.Context, id, secret string, backupCodes []string) error

	// EnableTwoFactor flips the flag on. It refuses (ErrConflict) when no
	// secret has been stored.
	EnableTwoFactor(ctx context.Context, id string) error

	// DisableTwoFactor clears the flag, secret and backup codes in one write.
	DisableTwoFactor(ctx context.Context, id string) error

	// ReplaceBackupCodes swaps the stored codes for next only if they still
	// equal expected; otherwise ErrConflict.
	ReplaceBackupCodes(ctx context.Context, id string, expected, next []string) error
}

type TwoFactorSessions interface {
	Create(ctx context.Context, s domain.TwoFactorSession) error

	// FindActive returns the unverified, unexpired session for tokenHash.
	FindActive(ctx context.Context, tokenHash string, now time.Time) (domain.TwoFactorSession, error)

	// MarkVerified succeeds once per session. A session that is already
	// verified, or gone, yields ErrNotFound.
	MarkVerified(ctx context.Context, id string) error

	// IncrementAttempts records a failed code and returns the new count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every session of userID except exceptID.
	// An empty exceptID removes them all.
	DeleteAllForUser(ctx context.Context, userID, exceptID string) error

	// DeleteExpired removes expired and already verified sessions.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
