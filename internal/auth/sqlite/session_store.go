// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
)

// SessionStore implements auth.SessionStore on SQLite. Expired rows stay
// until DeleteExpired runs.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SessionStore on d.
func NewSessionStore(d *DB) *SessionStore {
	return &SessionStore{db: d.db}
}

// Put stores a session under key, replacing any existing entry.
func (s *SessionStore) Put(ctx context.Context, key string, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO web_sessions (id, user_id, token_hash, created_at, expires_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (token_hash) DO UPDATE SET
	id = excluded.id,
	user_id = excluded.user_id,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at,
	last_seen_at = excluded.last_seen_at`,
		session.ID.String(),
		session.UserID.String(),
		key,
		formatTime(session.CreatedAt),
		formatTime(session.ExpiresAt),
		formatTime(session.LastSeenAt),
	)
	if err != nil {
		return oops.Code("SESSION_PUT_FAILED").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by key.
func (s *SessionStore) Get(ctx context.Context, key string) (*auth.Session, error) {
	var (
		session                          auth.Session
		id, userID                       string
		createdAt, expiresAt, lastSeenAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, token_hash, created_at, expires_at, last_seen_at
FROM web_sessions
WHERE token_hash = ?`, key).
		Scan(&id, &userID, &session.TokenHash, &createdAt, &expiresAt, &lastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}

	if session.ID, err = ulid.Parse(id); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").With("field", "id").Wrap(err)
	}
	if session.UserID, err = ulid.Parse(userID); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").With("field", "user_id").Wrap(err)
	}
	for _, f := range []struct {
		dst *time.Time
		raw string
	}{
		{&session.CreatedAt, createdAt},
		{&session.ExpiresAt, expiresAt},
		{&session.LastSeenAt, lastSeenAt},
	} {
		if *f.dst, err = parseTime(f.raw); err != nil {
			return nil, err
		}
	}
	return &session, nil
}

// Delete removes a session. Absent keys are ignored.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE token_hash = ?`, key); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	return nil
}

// DeleteExpired removes expired sessions and returns how many were removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at < ?`, formatTime(time.Now()))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return n, nil
}

var (
	_ auth.SessionStore   = (*SessionStore)(nil)
	_ auth.ExpiredSweeper = (*SessionStore)(nil)
)
