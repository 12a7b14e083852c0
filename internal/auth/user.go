// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

const redacted = "[REDACTED]"

// Credentials is raw signup input. The password is plaintext and must never
// be persisted or logged; String and LogValue redact it.
type Credentials struct {
	Username string
	Email    string
	Password string
}

// String implements fmt.Stringer without exposing the password.
func (c Credentials) String() string {
	return fmt.Sprintf("{username:%q email:%q password:%s}", c.Username, c.Email, redacted)
}

// LogValue implements slog.LogValuer without exposing the password.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("email", c.Email),
		slog.String("password", redacted),
	)
}

// User is a persisted account.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User with a fresh ID.
func NewUser(username, email, passwordHash string) (*User, error) {
	if username == "" {
		return nil, oops.Code("USER_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// LogValue keeps the password hash out of logs.
func (u *User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID.String()),
		slog.String("username", u.Username),
	)
}

// UserRepository manages user persistence. Implementations are the authority
// on uniqueness: two concurrent Create calls sharing a username or email
// (compared case-insensitively) must result in exactly one success.
type UserRepository interface {
	// Create stores a new user.
	// Returns an error wrapping ErrConflict if the username or email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	// Returns an error wrapping ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns an error wrapping ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
