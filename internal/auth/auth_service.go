// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatehouse-auth/gatehouse/pkg/errutil"
)

const tracerName = "github.com/gatehouse-auth/gatehouse/internal/auth"

// fallbackDummyHash is verified against when the hasher cannot produce a
// dummy hash of its own. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const fallbackDummyHash = "$2a$10$AAAAAAAAAAAAAAAAAAAAAO5d7X7rA0wG0x6y9o4l8wqG5y8xX1B6W"

// Service implements signup and login.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	logger *slog.Logger

	dummyOnce sync.Once
	dummy     string
}

// NewAuthService creates a new Service using the default logger.
func NewAuthService(users UserRepository, hasher PasswordHasher) (*Service, error) {
	return NewAuthServiceWithLogger(users, hasher, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(users UserRepository, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	return &Service{
		users:  users,
		hasher: hasher,
		logger: logger,
	}, nil
}

// Signup validates input, hashes the password and persists a new user.
// Failures are a *SignupError inside an oops error; use errors.As.
func (s *Service) Signup(ctx context.Context, creds Credentials) (*User, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Service.Signup")
	defer span.End()

	if err := ValidateSignup(creds); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		span.SetAttributes(attribute.String("signup.outcome", SignupInvalid.String()))
		return nil, oops.Code("AUTH_SIGNUP_INVALID").
			With("field", string(ve.Field)).
			With("kind", ve.Kind.String()).
			Wrap(&SignupError{Kind: SignupInvalid, Validation: ve})
	}

	hash, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return nil, s.signupFault(ctx, span, "hash password", err)
	}

	user, err := NewUser(creds.Username, creds.Email, hash)
	if err != nil {
		return nil, s.signupFault(ctx, span, "build user", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			span.SetAttributes(attribute.String("signup.outcome", SignupDuplicateCredential.String()))
			s.logger.InfoContext(ctx, "signup rejected: duplicate credential", "credentials", creds)
			return nil, oops.Code("AUTH_DUPLICATE_CREDENTIAL").
				Wrap(&SignupError{Kind: SignupDuplicateCredential})
		}
		return nil, s.signupFault(ctx, span, "create user", err)
	}

	span.SetAttributes(attribute.String("signup.outcome", "ok"))
	s.logger.InfoContext(ctx, "user signed up", "user", user)
	return user, nil
}

func (s *Service) signupFault(ctx context.Context, span trace.Span, operation string, cause error) error {
	err := oops.Code("AUTH_SIGNUP_FAILED").
		With("operation", operation).
		Wrap(&SignupError{Kind: SignupStoreFailure, Cause: cause})
	span.RecordError(err)
	span.SetStatus(codes.Error, operation)
	errutil.LogError(s.logger, "signup failed", err)
	return err
}

// Login verifies credentials and returns the matching user. An unknown email
// and a wrong password are indistinguishable to the caller, including in
// response time: a dummy hash is verified when no user is found.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Service.Login")
	defer span.End()

	if err := ValidateLogin(email, password); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return nil, oops.Code("AUTH_LOGIN_INVALID").
			With("field", string(ve.Field)).
			Wrap(&LoginError{Kind: LoginInvalid, Validation: ve})
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)

	var targetHash string
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummyHash()
	default:
		err := oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(&LoginError{Kind: LoginStoreFailure, Cause: lookupErr})
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		errutil.LogError(s.logger, "login failed", err)
		return nil, err
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		err := oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(&LoginError{Kind: LoginStoreFailure, Cause: verifyErr})
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		errutil.LogError(s.logger, "login failed", err)
		return nil, err
	}

	if !userExists || !valid {
		span.SetAttributes(attribute.String("login.outcome", LoginNotFoundOrMismatch.String()))
		s.logger.InfoContext(ctx, "login rejected")
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			Wrap(&LoginError{Kind: LoginNotFoundOrMismatch})
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	span.SetAttributes(attribute.String("login.outcome", "ok"))
	s.logger.InfoContext(ctx, "user logged in", "user", user)
	return user, nil
}

// upgradeHash rehashes the password with current parameters. Failures are
// logged and do not fail the login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogError(s.logger, "password rehash failed", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		errutil.LogError(s.logger, "password rehash not saved", err)
		return
	}
	user.PasswordHash = newHash
}

// dummyHash returns a hash produced by the configured hasher so that a
// missing user costs the same verification time as a wrong password.
func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		token, _, err := GenerateSessionToken()
		if err == nil {
			s.dummy, err = s.hasher.Hash(token)
		}
		if err != nil || s.dummy == "" {
			s.dummy = fallbackDummyHash
		}
	})
	return s.dummy
}
