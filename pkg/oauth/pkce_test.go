// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStateToken(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	pattern := regexp.MustCompile(`^[A-Za-z0-9]{32}$`)
	for i := 0; i < 50; i++ {
		token, err := GenerateStateToken()
		require.NoError(t, err)
		assert.Regexp(t, pattern, token)
		assert.False(t, seen[token], "state tokens must not repeat")
		seen[token] = true
	}
}

func TestGenerateCodeVerifier(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^[A-Za-z0-9\-._~]{64}$`)
	for i := 0; i < 50; i++ {
		verifier, err := GenerateCodeVerifier()
		require.NoError(t, err)
		assert.Regexp(t, pattern, verifier)
	}
}

func TestCodeChallenge(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B test vector.
	challenge := CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)

	// No padding or non-url-safe characters.
	assert.NotContains(t, challenge, "=")
	assert.NotContains(t, challenge, "+")
	assert.NotContains(t, challenge, "/")
}
