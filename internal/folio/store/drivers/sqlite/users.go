package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active,
	two_factor_enabled, two_factor_secret, backup_codes, created_at, updated_at`

type usersRepo struct {
	db *sql.DB
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u                    domain.User
		secret, codes        sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive,
		&u.TwoFactorEnabled, &secret, &codes, &createdAt, &updatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.TwoFactorSecret = nullStringPtr(secret)
	if u.BackupCodes, err = store.DecodeBackupCodes([]byte(codes.String)); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.insert(ctx, u, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return err
}

// CreateFirstUser inserts u only while the table is empty. The check and
// the insert are one statement.
func (r *usersRepo) CreateFirstUser(ctx context.Context, u domain.User) error {
	n, err := r.insert(ctx, u, `INSERT INTO users (`+userColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM users)`)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *usersRepo) insert(ctx context.Context, u domain.User, query string) (int64, error) {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	codes, ok, err := store.EncodeBackupCodes(u.BackupCodes)
	if err != nil {
		return 0, err
	}
	var secret sql.NullString
	if u.TwoFactorSecret != nil {
		secret = nullString(*u.TwoFactorSecret, true)
	}

	res, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive,
		u.TwoFactorEnabled, secret, nullString(codes, ok),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return 0, store.ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(time.Now()), id)
}

func (r *usersRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, toMillis(time.Now()), id)
}

func (r *usersRepo) SaveTwoFactorSetup(ctx context.Context, id, secret string, backupCodes []string) error {
	codes, ok, err := store.EncodeBackupCodes(backupCodes)
	if err != nil {
		return err
	}
	return r.execGuarded(ctx, id, `
		UPDATE users SET two_factor_secret = ?, backup_codes = ?, updated_at = ?
		WHERE id = ? AND two_factor_enabled = 0`,
		secret, nullString(codes, ok), toMillis(time.Now()), id)
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, id string) error {
	return r.execGuarded(ctx, id, `
		UPDATE users SET two_factor_enabled = 1, updated_at = ?
		WHERE id = ? AND two_factor_secret IS NOT NULL`,
		toMillis(time.Now()), id)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE users
		SET two_factor_enabled = 0, two_factor_secret = NULL, backup_codes = NULL, updated_at = ?
		WHERE id = ?`,
		toMillis(time.Now()), id)
}

func (r *usersRepo) ReplaceBackupCodes(ctx context.Context, id string, expected, next []string) error {
	want, wantOK, err := store.EncodeBackupCodes(expected)
	if err != nil {
		return err
	}
	codes, ok, err := store.EncodeBackupCodes(next)
	if err != nil {
		return err
	}

	query := `UPDATE users SET backup_codes = ?, updated_at = ? WHERE id = ? AND backup_codes = ?`
	args := []any{nullString(codes, ok), toMillis(time.Now()), id, want}
	if !wantOK {
		query = `UPDATE users SET backup_codes = ?, updated_at = ? WHERE id = ? AND backup_codes IS NULL`
		args = args[:3]
	}
	return r.execGuarded(ctx, id, query, args...)
}

// exec runs a single row update, mapping zero affected rows to ErrNotFound.
func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	return requireRow(r.db.ExecContext(ctx, query, args...))
}

// execGuarded is exec for conditional updates: zero rows means ErrConflict
// when the user exists and ErrNotFound when it does not.
func (r *usersRepo) execGuarded(ctx context.Context, id, query string, args ...any) error {
	err := r.exec(ctx, query, args...)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var one int
	switch err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one); {
	case err == nil:
		return store.ErrConflict
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	default:
		return fmt.Errorf("check user %s: %w", id, err)
	}
}
