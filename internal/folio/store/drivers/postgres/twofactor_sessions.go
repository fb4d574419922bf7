package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

type twoFactorSessionsRepo struct {
	pool *pgxpool.Pool
}

func (r *twoFactorSessionsRepo) Create(ctx context.Context, s domain.TwoFactorSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO two_factor_sessions (id, user_id, token_hash, expires_at, verified, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.TokenHash, s.ExpiresAt, s.Verified, s.Attempts, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *twoFactorSessionsRepo) FindActive(ctx context.Context, tokenHash string, now time.Time) (domain.TwoFactorSession, error) {
	var s domain.TwoFactorSession
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, verified, attempts, created_at
		FROM two_factor_sessions
		WHERE token_hash = $1 AND NOT verified AND expires_at > $2`,
		tokenHash, now,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.Verified, &s.Attempts, &s.CreatedAt)
	if err != nil {
		return domain.TwoFactorSession{}, mapNotFound(err)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func (r *twoFactorSessionsRepo) MarkVerified(ctx context.Context, id string) error {
	return requireRow(r.pool.Exec(ctx,
		`UPDATE two_factor_sessions SET verified = TRUE WHERE id = $1 AND NOT verified`, id))
}

func (r *twoFactorSessionsRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE two_factor_sessions SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *twoFactorSessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM two_factor_sessions WHERE id = $1`, id)
	return err
}

func (r *twoFactorSessionsRepo) DeleteAllForUser(ctx context.Context, userID, exceptID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM two_factor_sessions WHERE user_id = $1 AND id <> $2`, userID, exceptID)
	return err
}

func (r *twoFactorSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM two_factor_sessions WHERE expires_at <= $1 OR verified`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
