// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliveryWith(header, value string, body []byte) *Request {
	h := http.Header{}
	if header != "" {
		h.Set(header, value)
	}
	return &Request{
		Method:  http.MethodPost,
		Path:    "/connectors/stripe/webhook/sec",
		Headers: h,
		Body:    body,
	}
}

func TestHMACVerifier(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"charge.succeeded"}`)
	config := map[string]any{"signingSecret": "whsec_test"}
	verify := HMACVerifier(DefaultSignatureHeader, "signingSecret", DefaultSignaturePrefix)

	valid := Sign([]byte("whsec_test"), body, DefaultSignaturePrefix)

	assert.True(t, verify(deliveryWith(DefaultSignatureHeader, valid, body), config))
	assert.False(t, verify(deliveryWith(DefaultSignatureHeader, valid, []byte(`{}`)), config),
		"tampered body must not verify")
	assert.False(t, verify(deliveryWith("", "", body), config),
		"missing signature header must not verify")
	assert.False(t, verify(deliveryWith(DefaultSignatureHeader, valid, body), map[string]any{}),
		"missing secret in config must not verify")
}

func TestHMACVerifierNestedSecret(t *testing.T) {
	t.Parallel()

	body := []byte(`{"n":1}`)
	config := map[string]any{
		"webhook": map[string]any{"signingSecret": "nested"},
	}
	verify := HMACVerifier(DefaultSignatureHeader, "webhook.signingSecret", DefaultSignaturePrefix)

	valid := Sign([]byte("nested"), body, DefaultSignaturePrefix)
	assert.True(t, verify(deliveryWith(DefaultSignatureHeader, valid, body), config))
}

func TestJWTVerifier(t *testing.T) {
	t.Parallel()

	config := map[string]any{"signingSecret": "jwt-secret"}
	verify := JWTVerifier("Authorization", "signingSecret")

	sign := func(secret string, exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "provider",
			"exp": exp.Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	valid := sign("jwt-secret", time.Now().Add(time.Hour))
	assert.True(t, verify(deliveryWith("Authorization", "Bearer "+valid, nil), config))
	assert.True(t, verify(deliveryWith("Authorization", valid, nil), config),
		"bare token without Bearer prefix must verify")

	assert.False(t, verify(deliveryWith("Authorization", "Bearer "+sign("wrong", time.Now().Add(time.Hour)), nil), config))
	assert.False(t, verify(deliveryWith("Authorization", "Bearer "+sign("jwt-secret", time.Now().Add(-time.Hour)), nil), config),
		"expired token must not verify")
	assert.False(t, verify(deliveryWith("Authorization", "", nil), config))
}
