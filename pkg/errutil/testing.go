// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(tb testing.TB, err error) oops.OopsError {
	tb.Helper()
	require.Error(tb, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(tb, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code. oops reports the deepest
// code in the chain, so wrappers that only add context keep the inner code.
func AssertErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	assert.Equal(tb, code, requireOops(tb, err).Code(), "error: %v", err)
}

// AssertErrorContext asserts that err's oops context maps key to value.
func AssertErrorContext(tb testing.TB, err error, key string, value any) {
	tb.Helper()
	got, ok := requireOops(tb, err).Context()[key]
	if assert.True(tb, ok, "context key %q missing from %v", key, err) {
		assert.Equal(tb, value, got)
	}
}

// RequireErrorAs asserts that err's chain contains a T and returns it.
func RequireErrorAs[T error](tb testing.TB, err error) T {
	tb.Helper()
	var target T
	require.True(tb, errors.As(err, &target), "expected %T in chain of %v", target, err)
	return target
}
