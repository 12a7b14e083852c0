// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
)

// SessionStore implements auth.SessionStore and auth.ExpiredSweeper on the
// web_sessions table. The key is the session's token hash.
type SessionStore struct {
	pool poolIface
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool poolIface) *SessionStore {
	return &SessionStore{pool: pool}
}

// Put stores a session under key, replacing any session with the same key.
func (s *SessionStore) Put(ctx context.Context, key string, session *auth.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO web_sessions (id, user_id, token_hash, created_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE SET
			id = EXCLUDED.id,
			user_id = EXCLUDED.user_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			last_seen_at = EXCLUDED.last_seen_at
	`,
		session.ID.String(),
		session.UserID.String(),
		key,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastSeenAt,
	)
	if err != nil {
		return oops.Code("SESSION_PUT_FAILED").
			With("operation", "upsert web_session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves the session stored under key.
func (s *SessionStore) Get(ctx context.Context, key string) (*auth.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, last_seen_at
		FROM web_sessions
		WHERE token_hash = $1
	`, key)

	var (
		idStr, userIDStr string
		session          auth.Session
	)
	err := row.Scan(&idStr, &userIDStr, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if session.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	return &session, nil
}

// Delete removes the session stored under key. Absent keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM web_sessions WHERE token_hash = $1`, key); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete web_session").
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns how many were removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM web_sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired web_sessions").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ auth.SessionStore   = (*SessionStore)(nil)
	_ auth.ExpiredSweeper = (*SessionStore)(nil)
)
