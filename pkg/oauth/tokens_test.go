// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensIsExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tokens  Tokens
		expired bool
	}{
		{
			name:    "no expiry info never expires",
			tokens:  Tokens{AccessToken: "at"},
			expired: false,
		},
		{
			name:    "well before expiry",
			tokens:  Tokens{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)},
			expired: false,
		},
		{
			name:    "inside the refresh buffer",
			tokens:  Tokens{AccessToken: "at", ExpiresAt: time.Now().Add(30 * time.Second)},
			expired: true,
		},
		{
			name:    "past expiry",
			tokens:  Tokens{AccessToken: "at", ExpiresAt: time.Now().Add(-time.Minute)},
			expired: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expired, tt.tokens.IsExpired())
		})
	}
}

func TestTokensCanRefresh(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Tokens{AccessToken: "at"}).CanRefresh())
	assert.True(t, (&Tokens{AccessToken: "at", RefreshToken: "rt"}).CanRefresh())

	var nilTokens *Tokens
	assert.False(t, nilTokens.CanRefresh())
	assert.False(t, nilTokens.IsExpired())
}

func TestTokensOAuth2Token(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(time.Hour)
	tok := (&Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresAt:    expiry,
	}).OAuth2Token()
	require.NotNil(t, tok)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, expiry, tok.Expiry)

	var nilTokens *Tokens
	assert.Nil(t, nilTokens.OAuth2Token())
}

func TestDataMapRoundTrip(t *testing.T) {
	t.Parallel()

	connectedAt := time.Now().UTC().Truncate(time.Second)
	expiresAt := connectedAt.Add(time.Hour)
	data := &Data{
		Tokens: Tokens{
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresAt:    expiresAt,
			ExpiresIn:    3600,
			TokenType:    "Bearer",
		},
		UserInfo:    &UserInfo{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		ConnectedAt: connectedAt,
	}

	m := data.ToMap()
	assert.Equal(t, "at", m["accessToken"])
	assert.Equal(t, expiresAt.Format(time.RFC3339), m["expiresAt"])

	got := DataFromMap(m)
	require.NotNil(t, got)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.Equal(t, int64(3600), got.ExpiresIn)
	assert.True(t, got.ExpiresAt.Equal(expiresAt))
	assert.True(t, got.ConnectedAt.Equal(connectedAt))
	require.NotNil(t, got.UserInfo)
	assert.Equal(t, "u1", got.UserInfo.ID)
	assert.Equal(t, "Ada", got.UserInfo.Name)
}

func TestDataToMapOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	m := (&Data{Tokens: Tokens{AccessToken: "at"}}).ToMap()
	assert.NotContains(t, m, "refreshToken")
	assert.NotContains(t, m, "expiresAt")
	assert.NotContains(t, m, "userInfo")
	assert.Contains(t, m, "connectedAt", "connectedAt is always stamped")
}

func TestDataFromMapTolerance(t *testing.T) {
	t.Parallel()

	assert.Nil(t, DataFromMap(nil))

	// JSON round-trips turn numbers into float64.
	got := DataFromMap(map[string]any{
		"accessToken": "at",
		"expiresIn":   float64(7200),
		"expiresAt":   "not-a-timestamp",
	})
	require.NotNil(t, got)
	assert.Equal(t, int64(7200), got.ExpiresIn)
	assert.True(t, got.ExpiresAt.IsZero(), "malformed timestamps are dropped")
}
