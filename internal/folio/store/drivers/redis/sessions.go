// Package redis keeps pending two-factor sessions in Redis. User records
// stay in the relational store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/domain"
	"github.com/aussiebroadwan/folio/internal/folio/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "folio"

	// Records outlive their logical expiry a little so FindActive, not
	// Redis, decides when a session is over.
	expiryGrace = time.Minute
	maxRetries  = 4
)

// Sessions implements store.TwoFactorSessions.
//
// Layout:
//
//	{prefix}:tfs:s:{id}      JSON record
//	{prefix}:tfs:t:{hash}    id of the session for a token hash
//	{prefix}:tfs:u:{userID}  set of session ids
type Sessions struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ store.TwoFactorSessions = (*Sessions)(nil)

func NewSessions(rdb goredis.UniversalClient, prefix string) *Sessions {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sessions{rdb: rdb, prefix: prefix}
}

// NewClient parses a redis:// URL and verifies the server is reachable.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Ping reports whether Redis is reachable.
func (s *Sessions) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func toRecord(s domain.TwoFactorSession) record {
	return record(s)
}

func (r record) session() domain.TwoFactorSession {
	return domain.TwoFactorSession(r)
}

func (s *Sessions) sessionKey(id string) string  { return s.prefix + ":tfs:s:" + id }
func (s *Sessions) tokenKey(hash string) string  { return s.prefix + ":tfs:t:" + hash }
func (s *Sessions) userKey(userID string) string { return s.prefix + ":tfs:u:" + userID }

// ttlFor measures the session lifetime on the caller's clock. Active is
// still judged against the now passed to FindActive; the key TTL only
// reclaims storage.
func ttlFor(sess domain.TwoFactorSession) time.Duration {
	return max(sess.ExpiresAt.Sub(sess.CreatedAt), 0) + expiryGrace
}

func (s *Sessions) Create(ctx context.Context, sess domain.TwoFactorSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(toRecord(sess))
	if err != nil {
		return err
	}
	ttl := ttlFor(sess)

	ok, err := s.rdb.SetNX(ctx, s.tokenKey(sess.TokenHash), sess.ID, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrAlreadyExists
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	return err
}

func (s *Sessions) get(ctx context.Context, id string) (record, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return record{}, store.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

func (s *Sessions) FindActive(ctx context.Context, tokenHash string, now time.Time) (domain.TwoFactorSession, error) {
	id, err := s.rdb.Get(ctx, s.tokenKey(tokenHash)).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.TwoFactorSession{}, store.ErrNotFound
	}
	if err != nil {
		return domain.TwoFactorSession{}, err
	}

	rec, err := s.get(ctx, id)
	if err != nil {
		return domain.TwoFactorSession{}, err
	}
	sess := rec.session()
	if sess.TokenHash != tokenHash || !sess.Active(now) {
		return domain.TwoFactorSession{}, store.ErrNotFound
	}
	return sess, nil
}

// update applies fn to the record under optimistic locking.
func (s *Sessions) update(ctx context.Context, id string, fn func(*record) error) (record, error) {
	key := s.sessionKey(id)
	for range maxRetries {
		var out record
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var rec record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode session %s: %w", id, err)
			}
			if err := fn(&rec); err != nil {
				return err
			}
			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, updated, goredis.KeepTTL)
				return nil
			})
			out = rec
			return err
		}, key)

		switch {
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, goredis.Nil):
			return record{}, store.ErrNotFound
		case err != nil:
			return record{}, err
		}
		return out, nil
	}
	return record{}, fmt.Errorf("update session %s: %w", id, store.ErrConflict)
}

func (s *Sessions) MarkVerified(ctx context.Context, id string) error {
	_, err := s.update(ctx, id, func(r *record) error {
		if r.Verified {
			return store.ErrNotFound
		}
		r.Verified = true
		return nil
	})
	return err
}

func (s *Sessions) IncrementAttempts(ctx context.Context, id string) (int, error) {
	rec, err := s.update(ctx, id, func(r *record) error {
		r.Attempts++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.Attempts, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	rec, err := s.get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, rec)
}

func (s *Sessions) remove(ctx context.Context, recs ...record) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, rec := range recs {
			pipe.Del(ctx, s.sessionKey(rec.ID), s.tokenKey(rec.TokenHash))
			pipe.SRem(ctx, s.userKey(rec.UserID), rec.ID)
		}
		return nil
	})
	return err
}

func (s *Sessions) DeleteAllForUser(ctx context.Context, userID, exceptID string) error {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return err
	}

	var doomed []record
	var stale []any
	for _, id := range ids {
		if id == exceptID {
			continue
		}
		rec, err := s.get(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			stale = append(stale, id)
		case err != nil:
			return err
		default:
			doomed = append(doomed, rec)
		}
	}

	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return err
		}
	}
	return s.remove(ctx, doomed...)
}

// DeleteExpired walks every session record. Redis drops records on its own
// shortly after expiry; this catches verified sessions and keeps the
// per-user index tidy.
func (s *Sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.sessionKey("*"), 100).Result()
		if err != nil {
			return deleted, err
		}

		var doomed []record
		for _, key := range keys {
			id := key[len(s.sessionKey("")):]
			rec, err := s.get(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return deleted, err
			}
			if !rec.session().Active(now) {
				doomed = append(doomed, rec)
			}
		}
		if err := s.remove(ctx, doomed...); err != nil {
			return deleted, err
		}
		deleted += int64(len(doomed))

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
