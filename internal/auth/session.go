// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Session token configuration.
const (
	SessionTokenBytes = 32             // 32 bytes = 64 hex chars
	DefaultSessionTTL = 24 * time.Hour // 24 hour expiry
)

// Session is server-held proof of a prior successful login.
type Session struct {
	ID         ulid.ULID
	UserID     ulid.ULID // principal; weak reference
	TokenHash  string    // sha256 of the client token, the store key
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a validated Session.
func NewSession(userID ulid.ULID, tokenHash string, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now().UTC()
	return &Session{
		ID:         ulid.Make(),
		UserID:     userID,
		TokenHash:  tokenHash,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		LastSeenAt: now,
	}, nil
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateSessionToken creates a secure random token and its hash.
// The plaintext token goes to the client; only the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ClientContext identifies one client across requests. Token is the opaque
// value the client holds (a cookie); empty means no session.
type ClientContext struct {
	Token string
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	// Put stores a session under key, replacing any existing entry.
	Put(ctx context.Context, key string, session *Session) error

	// Get retrieves a session.
	// Returns an error wrapping ErrNotFound if absent.
	Get(ctx context.Context, key string) (*Session, error)

	// Delete removes a session. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ExpiredSweeper is implemented by session stores that do not expire entries
// on their own.
type ExpiredSweeper interface {
	// DeleteExpired removes all expired sessions and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionManager creates, reads and destroys the session bound to a client.
type SessionManager struct {
	store  SessionStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. A zero ttl selects DefaultSessionTTL.
func NewSessionManager(store SessionStore, ttl time.Duration, logger *slog.Logger) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session store is required")
	}
	if ttl < 0 {
		return nil, oops.Code("SESSION_MANAGER_INVALID").With("ttl", ttl).Errorf("session ttl cannot be negative")
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{store: store, ttl: ttl, logger: logger}, nil
}

// Create binds a new session for principal to cc, destroying any session cc
// already holds. On success cc.Token carries the new client token.
func (m *SessionManager) Create(ctx context.Context, cc *ClientContext, principal *User) (*Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "SessionManager.Create")
	defer span.End()

	if principal == nil {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("principal is required")
	}

	if err := m.Destroy(ctx, cc); err != nil {
		return nil, err
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	session, err := NewSession(principal.ID, tokenHash, time.Now().UTC().Add(m.ttl))
	if err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := m.store.Put(ctx, tokenHash, session); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", principal.ID.String()).
			Wrap(err)
	}

	span.SetAttributes(attribute.String("session.id", session.ID.String()))
	cc.Token = token
	m.logger.DebugContext(ctx, "session created",
		"session_id", session.ID.String(),
		"user_id", principal.ID.String(),
	)
	return session, nil
}

// Current returns the live session bound to cc. It never creates or mutates
// state: an absent or expired session yields (nil, false, nil). Errors are
// store faults only.
func (m *SessionManager) Current(ctx context.Context, cc ClientContext) (*Session, bool, error) {
	if cc.Token == "" {
		return nil, false, nil
	}

	session, err := m.store.Get(ctx, HashSessionToken(cc.Token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, oops.Code("SESSION_LOOKUP_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, false, nil
	}
	return session, true, nil
}

// Destroy removes the session bound to cc. It is idempotent. On a store fault
// it returns a *DestroyError and leaves cc untouched.
func (m *SessionManager) Destroy(ctx context.Context, cc *ClientContext) error {
	if cc.Token == "" {
		return nil
	}

	if err := m.store.Delete(ctx, HashSessionToken(cc.Token)); err != nil {
		return oops.Code("SESSION_DESTROY_FAILED").
			With("operation", "delete session").
			Wrap(&DestroyError{Cause: err})
	}

	cc.Token = ""
	return nil
}

// Sweep removes expired sessions when the store needs it. It returns 0 for
// stores that expire entries themselves.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	sweeper, ok := m.store.(ExpiredSweeper)
	if !ok {
		return 0, nil
	}
	n, err := sweeper.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
