// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by a UserRepository when a write violates the
// username or email uniqueness constraint.
var ErrConflict = errors.New("conflict")

// User-facing messages. These strings are part of the boundary contract and
// are rendered verbatim on the originating form.
const (
	MsgSignupMissingFields = "All fields are mandatory. Please provide your username, email and password."
	MsgLoginMissingFields  = "Please enter both, email and password to login."
	MsgWeakPassword        = "Password needs to have at least 6 chars and must contain at least one number, one lowercase and one uppercase letter."
	MsgDuplicateCredential = "Username and email need to be unique. Either username or email is already used."
	MsgInvalidCredentials  = "Incorrect email and/or password."
)

// Field names a credential input field.
type Field string

// Credential fields.
const (
	FieldUsername Field = "username"
	FieldEmail    Field = "email"
	FieldPassword Field = "password"
)

// ValidationKind classifies a ValidationError.
type ValidationKind int

// Validation failure kinds.
const (
	MissingFields ValidationKind = iota + 1
	WeakPassword
)

func (k ValidationKind) String() string {
	switch k {
	case MissingFields:
		return "missing_fields"
	case WeakPassword:
		return "weak_password"
	default:
		return fmt.Sprintf("validation_kind(%d)", int(k))
	}
}

// ValidationError reports a structural problem with user input.
type ValidationError struct {
	Field   Field
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SignupErrorKind enumerates the ways Signup can fail.
type SignupErrorKind int

// Signup failure kinds.
const (
	SignupInvalid SignupErrorKind = iota + 1
	SignupDuplicateCredential
	SignupStoreFailure
)

func (k SignupErrorKind) String() string {
	switch k {
	case SignupInvalid:
		return "invalid"
	case SignupDuplicateCredential:
		return "duplicate_credential"
	case SignupStoreFailure:
		return "store_failure"
	default:
		return fmt.Sprintf("signup_error_kind(%d)", int(k))
	}
}

// SignupError is the closed set of Signup failures.
// Validation is set for SignupInvalid, Cause for SignupStoreFailure.
type SignupError struct {
	Kind       SignupErrorKind
	Validation *ValidationError
	Cause      error
}

func (e *SignupError) Error() string {
	switch e.Kind {
	case SignupInvalid:
		if e.Validation != nil {
			return e.Validation.Message
		}
		return "invalid signup input"
	case SignupDuplicateCredential:
		return MsgDuplicateCredential
	default:
		if e.Cause != nil {
			return "signup failed: " + e.Cause.Error()
		}
		return "signup failed"
	}
}

func (e *SignupError) Unwrap() error {
	if e.Validation != nil {
		return e.Validation
	}
	return e.Cause
}

// LoginErrorKind enumerates the ways Login can fail.
type LoginErrorKind int

// Login failure kinds.
const (
	LoginInvalid LoginErrorKind = iota + 1
	LoginNotFoundOrMismatch
	LoginStoreFailure
)

func (k LoginErrorKind) String() string {
	switch k {
	case LoginInvalid:
		return "invalid"
	case LoginNotFoundOrMismatch:
		return "not_found_or_mismatch"
	case LoginStoreFailure:
		return "store_failure"
	default:
		return fmt.Sprintf("login_error_kind(%d)", int(k))
	}
}

// LoginError is the closed set of Login failures. An unknown email and a
// wrong password both yield LoginNotFoundOrMismatch with no further detail.
type LoginError struct {
	Kind       LoginErrorKind
	Validation *ValidationError
	Cause      error
}

func (e *LoginError) Error() string {
	switch e.Kind {
	case LoginInvalid:
		if e.Validation != nil {
			return e.Validation.Message
		}
		return "invalid login input"
	case LoginNotFoundOrMismatch:
		return MsgInvalidCredentials
	default:
		if e.Cause != nil {
			return "login failed: " + e.Cause.Error()
		}
		return "login failed"
	}
}

func (e *LoginError) Unwrap() error {
	if e.Validation != nil {
		return e.Validation
	}
	return e.Cause
}

// DestroyError reports that a session could not be removed from the store.
// The session must be assumed to still be live.
type DestroyError struct {
	Cause error
}

func (e *DestroyError) Error() string {
	return "session destroy failed: " + e.Cause.Error()
}

func (e *DestroyError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the text that may be shown to the user for err.
// It returns false for faults that belong to the generic error handler.
func UserMessage(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var signupErr *SignupError
	if errors.As(err, &signupErr) {
		switch signupErr.Kind {
		case SignupInvalid, SignupDuplicateCredential:
			return signupErr.Error(), true
		case SignupStoreFailure:
			return "", false
		}
		return "", false
	}

	var loginErr *LoginError
	if errors.As(err, &loginErr) {
		switch loginErr.Kind {
		case LoginInvalid, LoginNotFoundOrMismatch:
			return loginErr.Error(), true
		case LoginStoreFailure:
			return "", false
		}
		return "", false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message, true
	}

	return "", false
}
