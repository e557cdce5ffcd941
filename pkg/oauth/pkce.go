// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	stateTokenLength   = 32
	codeVerifierLength = 64

	stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// RFC 7636 unreserved characters.
	verifierAlphabet = stateAlphabet + "-._~"
)

// GenerateStateToken returns a 32-character alphanumeric CSRF state token.
func GenerateStateToken() (string, error) {
	return randomString(stateAlphabet, stateTokenLength)
}

// GenerateCodeVerifier returns a 64-character PKCE code verifier drawn from
// the RFC 7636 unreserved set.
func GenerateCodeVerifier() (string, error) {
	return randomString(verifierAlphabet, codeVerifierLength)
}

// CodeChallenge derives the S256 challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString draws length characters uniformly from alphabet using
// rejection sampling, so no character is over-represented.
func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	limit := 256 - (256 % len(alphabet))
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
