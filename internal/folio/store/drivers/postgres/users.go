package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active,
	two_factor_enabled, two_factor_secret, backup_codes, created_at, updated_at`

type usersRepo struct {
	pool *pgxpool.Pool
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u     domain.User
		codes []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive,
		&u.TwoFactorEnabled, &u.TwoFactorSecret, &codes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	if u.BackupCodes, err = store.DecodeBackupCodes(codes); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// jsonParam renders codes as a nullable jsonb parameter.
func jsonParam(codes []string) (*string, error) {
	s, ok, err := store.EncodeBackupCodes(codes)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := insertUser(ctx, r.pool, u, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)`)
	return err
}

// CreateFirstUser inserts u only while the table is empty. The table lock
// queues concurrent first registrations behind each other.
func (r *usersRepo) CreateFirstUser(ctx context.Context, u domain.User) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		n, err := insertUser(ctx, tx, u, `INSERT INTO users (`+userColumns+`)
			SELECT $1, $2, $3, $4, $5, $6::boolean, $7::boolean, $8, $9::jsonb, $10::timestamptz, $11::timestamptz
			WHERE NOT EXISTS (SELECT 1 FROM users)`)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrConflict
		}
		return nil
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, u domain.User, query string) (int64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	codes, err := jsonParam(u.BackupCodes)
	if err != nil {
		return 0, err
	}

	tag, err := db.Exec(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive,
		u.TwoFactorEnabled, u.TwoFactorSecret, codes, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return 0, store.ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists); err != nil {
		return false, err
	}
	return !exists, nil
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return requireRow(r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash, id))
}

func (r *usersRepo) SetActive(ctx context.Context, id string, active bool) error {
	return requireRow(r.pool.Exec(ctx,
		`UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2`, active, id))
}

func (r *usersRepo) SaveTwoFactorSetup(ctx context.Context, id, secret string, backupCodes []string) error {
	codes, err := jsonParam(backupCodes)
	if err != nil {
		return err
	}
	return r.guarded(ctx, id, `
		UPDATE users SET two_factor_secret = $1, backup_codes = $2::jsonb, updated_at = now()
		WHERE id = $3 AND NOT two_factor_enabled`,
		secret, codes, id)
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, id string) error {
	return r.guarded(ctx, id, `
		UPDATE users SET two_factor_enabled = TRUE, updated_at = now()
		WHERE id = $1 AND two_factor_secret IS NOT NULL`, id)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, id string) error {
	return requireRow(r.pool.Exec(ctx, `
		UPDATE users
		SET two_factor_enabled = FALSE, two_factor_secret = NULL, backup_codes = NULL, updated_at = now()
		WHERE id = $1`, id))
}

func (r *usersRepo) ReplaceBackupCodes(ctx context.Context, id string, expected, next []string) error {
	want, err := jsonParam(expected)
	if err != nil {
		return err
	}
	codes, err := jsonParam(next)
	if err != nil {
		return err
	}
	return r.guarded(ctx, id, `
		UPDATE users SET backup_codes = $1::jsonb, updated_at = now()
		WHERE id = $2 AND backup_codes IS NOT DISTINCT FROM $3::jsonb`,
		codes, id, want)
}

// guarded runs a conditional update. Zero rows means ErrConflict when the
// user exists and ErrNotFound when it does not.
func (r *usersRepo) guarded(ctx context.Context, id, query string, args ...any) error {
	err := requireRow(r.pool.Exec(ctx, query, args...))
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check user %s: %w", id, err)
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}
