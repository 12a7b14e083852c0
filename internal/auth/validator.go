// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "unicode/utf8"

// MinPasswordLength is the minimum number of characters in a signup password.
const MinPasswordLength = 6

// ValidateSignup checks raw signup input. Rules are applied in order and the
// first failure is returned:
//   - username, email and password must all be non-empty (MissingFields)
//   - password must be at least MinPasswordLength characters and contain a
//     digit, a lowercase letter and an uppercase letter (WeakPassword)
//
// Returns nil or a *ValidationError.
func ValidateSignup(c Credentials) error {
	switch {
	case c.Username == "":
		return missingSignupField(FieldUsername)
	case c.Email == "":
		return missingSignupField(FieldEmail)
	case c.Password == "":
		return missingSignupField(FieldPassword)
	}

	if !isStrongPassword(c.Password) {
		return &ValidationError{
			Field:   FieldPassword,
			Kind:    WeakPassword,
			Message: MsgWeakPassword,
		}
	}
	return nil
}

// ValidateLogin checks that both login inputs are present. Password
// complexity is only enforced at signup.
func ValidateLogin(email, password string) error {
	field := Field("")
	switch {
	case email == "":
		field = FieldEmail
	case password == "":
		field = FieldPassword
	default:
		return nil
	}
	return &ValidationError{
		Field:   field,
		Kind:    MissingFields,
		Message: MsgLoginMissingFields,
	}
}

func missingSignupField(f Field) *ValidationError {
	return &ValidationError{
		Field:   f,
		Kind:    MissingFields,
		Message: MsgSignupMissingFields,
	}
}

// isStrongPassword reports whether p has at least one ASCII digit, one
// lowercase and one uppercase ASCII letter, in any position, and at least
// MinPasswordLength runes.
func isStrongPassword(p string) bool {
	if utf8.RuneCountInString(p) < MinPasswordLength {
		return false
	}

	var digit, lower, upper bool
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		}
	}
	return digit && lower && upper
}
