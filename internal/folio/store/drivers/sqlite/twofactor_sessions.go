package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
)

type twoFactorSessionsRepo struct {
	db *sql.DB
}

func (r *twoFactorSessionsRepo) Create(ctx context.Context, s domain.TwoFactorSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_sessions (id, user_id, token_hash, expires_at, verified, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, toMillis(s.ExpiresAt), s.Verified, s.Attempts, toMillis(s.CreatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *twoFactorSessionsRepo) FindActive(ctx context.Context, tokenHash string, now time.Time) (domain.TwoFactorSession, error) {
	var (
		s                    domain.TwoFactorSession
		expiresAt, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, verified, attempts, created_at
		FROM two_factor_sessions
		WHERE token_hash = ? AND verified = 0 AND expires_at > ?`,
		tokenHash, toMillis(now),
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &expiresAt, &s.Verified, &s.Attempts, &createdAt)
	if err != nil {
		return domain.TwoFactorSession{}, mapNotFound(err)
	}
	s.ExpiresAt = fromMillis(expiresAt)
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

func (r *twoFactorSessionsRepo) MarkVerified(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor_sessions SET verified = 1 WHERE id = ? AND verified = 0`, id)
	return requireRow(res, err)
}

func (r *twoFactorSessionsRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE two_factor_sessions SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *twoFactorSessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM two_factor_sessions WHERE id = ?`, id)
	return err
}

func (r *twoFactorSessionsRepo) DeleteAllForUser(ctx context.Context, userID, exceptID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_sessions WHERE user_id = ? AND id <> ?`, userID, exceptID)
	return err
}

func (r *twoFactorSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_sessions WHERE expires_at <= ? OR verified = 1`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
