// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth implements credential signup, login and server-side sessions.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a fresh ID and a password hash
//   - NewSession - creates a Session bound to a user and a token hash
//
// Plaintext passwords only ever live in Credentials, which redacts them when
// formatted or logged.
//
// # Services
//
//   - Service - Signup and Login against a UserRepository and PasswordHasher
//   - SessionManager - Create, Current and Destroy the session bound to a
//     ClientContext
//   - AccessGuard - RequireAuthenticated and RequireAnonymous checks consulted
//     by the dispatch layer before a handler runs
//
// # Errors
//
// Signup and Login fail with a *SignupError or *LoginError (recover them with
// errors.As) whose Kind is a closed enumeration. UserMessage maps an error to
// the text that may be shown on the originating form; store faults have no
// user message and belong to the generic fault handler.
//
// Stores are the authority on username and email uniqueness. Service never
// pre-checks; a store-reported ErrConflict is final.
package auth
