// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the authorization-code flow used by OAuth
// connectors: authorization-URL generation with CSRF state and PKCE,
// single-use state consumption, code-for-token exchange, token refresh,
// and user-info retrieval.
package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryBuffer is subtracted from the expiry time when deciding
// whether an access token needs a refresh.
const DefaultExpiryBuffer = 60 * time.Second

// Tokens is the outcome of a token-endpoint exchange or refresh.
// AccessToken, RefreshToken, and ExpiresAt are authoritative; ExpiresIn is
// the provider-reported lifetime kept for display.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    int64
	TokenType    string
	IDToken      string
}

// IsExpired reports whether the access token expires within the default
// buffer. Tokens without expiry information never report expired.
func (t *Tokens) IsExpired() bool {
	return t.IsExpiredWithin(DefaultExpiryBuffer)
}

// IsExpiredWithin reports whether the access token expires within buffer.
func (t *Tokens) IsExpiredWithin(buffer time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(buffer).Before(t.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (t *Tokens) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// OAuth2Token converts to the golang.org/x/oauth2 token type so hosts can
// hand connector credentials to SDKs built on that package.
func (t *Tokens) OAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// UserInfo is the normalized identity fetched from the provider's
// user-info endpoint (or recovered from an id_token).
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Data is the full OAuth payload persisted under a connection's
// Value["oauth"] key.
type Data struct {
	Tokens
	UserInfo    *UserInfo
	ConnectedAt time.Time
}

// ToMap renders the payload in the persisted wire shape. Optional fields
// are omitted when empty; timestamps are RFC 3339.
func (d *Data) ToMap() map[string]any {
	m := map[string]any{
		"accessToken": d.AccessToken,
	}
	if d.RefreshToken != "" {
		m["refreshToken"] = d.RefreshToken
	}
	if !d.ExpiresAt.IsZero() {
		m["expiresAt"] = d.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if d.ExpiresIn > 0 {
		m["expiresIn"] = d.ExpiresIn
	}
	if d.TokenType != "" {
		m["tokenType"] = d.TokenType
	}
	if d.UserInfo != nil {
		info := map[string]any{"id": d.UserInfo.ID}
		if d.UserInfo.Name != "" {
			info["name"] = d.UserInfo.Name
		}
		if d.UserInfo.Email != "" {
			info["email"] = d.UserInfo.Email
		}
		if d.UserInfo.Avatar != "" {
			info["avatar"] = d.UserInfo.Avatar
		}
		m["userInfo"] = info
	}
	connectedAt := d.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}
	m["connectedAt"] = connectedAt.UTC().Format(time.RFC3339)
	return m
}

// DataFromMap parses the persisted wire shape back into Data. Malformed
// optional fields are dropped rather than failing the whole payload; a nil
// map yields nil.
func DataFromMap(m map[string]any) *Data {
	if m == nil {
		return nil
	}
	d := &Data{
		Tokens: Tokens{
			AccessToken:  stringField(m, "accessToken"),
			RefreshToken: stringField(m, "refreshToken"),
			ExpiresIn:    int64Field(m, "expiresIn"),
			TokenType:    stringField(m, "tokenType"),
		},
	}
	if ts, err := time.Parse(time.RFC3339, stringField(m, "expiresAt")); err == nil {
		d.ExpiresAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, stringField(m, "connectedAt")); err == nil {
		d.ConnectedAt = ts
	}
	if info, ok := m["userInfo"].(map[string]any); ok {
		d.UserInfo = &UserInfo{
			ID:     stringField(info, "id"),
			Name:   stringField(info, "name"),
			Email:  stringField(info, "email"),
			Avatar: stringField(info, "avatar"),
		}
	}
	return d
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// int64Field tolerates the numeric types JSON round-trips produce.
func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
