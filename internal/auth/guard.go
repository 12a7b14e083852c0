// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// Default redirect targets for guard denials.
const (
	DefaultLoginPath   = "/login"
	DefaultLandingPath = "/userProfile"
)

// SessionReader looks up the session bound to a client.
type SessionReader interface {
	Current(ctx context.Context, cc ClientContext) (*Session, bool, error)
}

// Decision is the outcome of a guard check. When Allowed is false the
// guarded operation must not run and the caller redirects to Redirect.
type Decision struct {
	Allowed  bool
	Redirect string
	Session  *Session // set when a live session was found
}

// AccessGuard gates operations on session presence or absence.
type AccessGuard struct {
	sessions    SessionReader
	loginPath   string
	landingPath string
}

// NewAccessGuard creates an AccessGuard. Empty paths fall back to
// DefaultLoginPath and DefaultLandingPath.
func NewAccessGuard(sessions SessionReader, loginPath, landingPath string) (*AccessGuard, error) {
	if sessions == nil {
		return nil, oops.Code("GUARD_INVALID").Errorf("session reader is required")
	}
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if landingPath == "" {
		landingPath = DefaultLandingPath
	}
	return &AccessGuard{
		sessions:    sessions,
		loginPath:   loginPath,
		landingPath: landingPath,
	}, nil
}

// RequireAuthenticated admits only clients holding a live session; others
// are sent to the login entry point.
func (g *AccessGuard) RequireAuthenticated(ctx context.Context, cc ClientContext) (Decision, error) {
	session, ok, err := g.sessions.Current(ctx, cc)
	if err != nil {
		return Decision{}, oops.Code("GUARD_CHECK_FAILED").With("guard", "authenticated").Wrap(err)
	}
	if !ok {
		return Decision{Allowed: false, Redirect: g.loginPath}, nil
	}
	return Decision{Allowed: true, Session: session}, nil
}

// RequireAnonymous admits only clients without a live session; others are
// sent to the authenticated landing page.
func (g *AccessGuard) RequireAnonymous(ctx context.Context, cc ClientContext) (Decision, error) {
	session, ok, err := g.sessions.Current(ctx, cc)
	if err != nil {
		return Decision{}, oops.Code("GUARD_CHECK_FAILED").With("guard", "anonymous").Wrap(err)
	}
	if ok {
		return Decision{Allowed: false, Redirect: g.landingPath, Session: session}, nil
	}
	return Decision{Allowed: true}, nil
}
