// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igniterhq/connectors/pkg/errors"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.ClientID == "" {
		opts.ClientID = "client-1"
	}
	if opts.AuthorizationURL == "" {
		opts.AuthorizationURL = "https://provider.example.com/authorize"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = "https://provider.example.com/token"
	}
	engine, err := NewEngine(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := NewEngine(ctx, Options{})
	assert.True(t, errors.IsCode(err, errors.CodeOAuthNotConfigured))

	_, err = NewEngine(ctx, Options{ClientID: "client-1"})
	assert.True(t, errors.IsCode(err, errors.CodeOAuthNotConfigured),
		"missing endpoints without an issuer must fail")
}

func TestGenerateAuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine := newTestEngine(t, Options{
		Scopes:          []string{"chat:write", "channels:read"},
		UsePKCE:         true,
		ExtraAuthParams: map[string]string{"access_type": "offline"},
	})

	result, err := engine.GenerateAuthURL(ctx, "https://app.example.com/callback", PendingState{
		Scope:     "organization",
		Identity:  "org_1",
		Connector: "slack",
	})
	require.NoError(t, err)
	assert.Len(t, result.State, 32)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, result.State, q.Get("state"))
	assert.Equal(t, "chat:write channels:read", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("access_type"))

	// The stored state carries the verifier matching the challenge.
	pending, err := engine.ConsumeState(ctx, result.State)
	require.NoError(t, err)
	assert.Equal(t, q.Get("code_challenge"), CodeChallenge(pending.CodeVerifier))
	assert.Equal(t, "org_1", pending.Identity)
}

func TestGenerateAuthURLWithoutPKCE(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, Options{})
	result, err := engine.GenerateAuthURL(context.Background(), "https://app.example.com/cb", PendingState{})
	require.NoError(t, err)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	assert.Empty(t, parsed.Query().Get("code_challenge"))
	assert.Empty(t, parsed.Query().Get("scope"))
}

func TestGenerateAuthURLPreservesExistingQuery(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, Options{
		AuthorizationURL: "https://provider.example.com/authorize?tenant=common",
	})
	result, err := engine.GenerateAuthURL(context.Background(), "https://app.example.com/cb", PendingState{})
	require.NoError(t, err)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	assert.Equal(t, "common", parsed.Query().Get("tenant"))
	assert.Equal(t, "code", parsed.Query().Get("response_type"))
}

func TestConsumeStateSingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine := newTestEngine(t, Options{})
	result, err := engine.GenerateAuthURL(ctx, "https://app.example.com/cb", PendingState{Connector: "slack"})
	require.NoError(t, err)

	_, err = engine.ConsumeState(ctx, result.State)
	require.NoError(t, err)

	_, err = engine.ConsumeState(ctx, result.State)
	assert.True(t, errors.IsOAuthStateInvalid(err), "states are single use")

	_, err = engine.ConsumeState(ctx, "")
	assert.True(t, errors.IsOAuthStateInvalid(err))
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "shh", r.PostForm.Get("client_secret"))
		assert.Equal(t, "verifier-1", r.PostForm.Get("code_verifier"))
		assert.Equal(t, "https://app.example.com/cb", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{ClientSecret: "shh", TokenURL: server.URL})
	tokens, err := engine.ExchangeCode(ctx, "code-1", "https://app.example.com/cb",
		&PendingState{CodeVerifier: "verifier-1"})
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, "rt", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt, 10*time.Second)
}

func TestExchangeCodeCamelCaseResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accessToken":"at","refreshToken":"rt","expiresIn":60,"tokenType":"bearer"}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{TokenURL: server.URL})
	tokens, err := engine.ExchangeCode(context.Background(), "code-1", "https://app.example.com/cb", nil)
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, "rt", tokens.RefreshToken)
	assert.Equal(t, int64(60), tokens.ExpiresIn)
}

func TestExchangeCodeClientErrorIsFinal(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{TokenURL: server.URL})
	_, err := engine.ExchangeCode(context.Background(), "bad-code", "https://app.example.com/cb", nil)
	assert.True(t, errors.IsCode(err, errors.CodeOAuthTokenFailed))
	assert.Equal(t, int32(1), attempts.Load(), "4xx responses must not be retried")
}

func TestExchangeCodeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "upstream blew up", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at"}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{TokenURL: server.URL})
	tokens, err := engine.ExchangeCode(context.Background(), "code-1", "https://app.example.com/cb", nil)
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestExchangeCodeMissingAccessToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"scope":"chat:write"}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{TokenURL: server.URL})
	_, err := engine.ExchangeCode(context.Background(), "code-1", "https://app.example.com/cb", nil)
	assert.True(t, errors.IsCode(err, errors.CodeOAuthParseTokenFailed))
}

func TestExchangeCodeCustomParser(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"credentials":{"value":"at"}}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{
		TokenURL: server.URL,
		ParseTokenResponse: func(_ []byte) (*Tokens, error) {
			return &Tokens{AccessToken: "parsed"}, nil
		},
	})
	tokens, err := engine.ExchangeCode(context.Background(), "code-1", "https://app.example.com/cb", nil)
	require.NoError(t, err)
	assert.Equal(t, "parsed", tokens.AccessToken)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-rt", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-at","expires_in":3600}`)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{TokenURL: server.URL})
	refreshed, err := engine.Refresh(context.Background(),
		&Tokens{AccessToken: "old-at", RefreshToken: "old-rt"})
	require.NoError(t, err)
	assert.Equal(t, "new-at", refreshed.AccessToken)
	assert.Equal(t, "old-rt", refreshed.RefreshToken,
		"a provider omitting the refresh token keeps the old one")
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, Options{})
	_, err := engine.Refresh(context.Background(), &Tokens{AccessToken: "at"})
	assert.True(t, errors.IsCode(err, errors.CodeOAuthRefreshFailed))
}

func TestFetchUserInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want UserInfo
	}{
		{
			name: "oidc style",
			body: `{"sub":"u1","name":"Ada Lovelace","email":"ada@example.com","picture":"https://img.example.com/a.png"}`,
			want: UserInfo{ID: "u1", Name: "Ada Lovelace", Email: "ada@example.com", Avatar: "https://img.example.com/a.png"},
		},
		{
			name: "camel case provider",
			body: `{"userId":"u2","displayName":"Grace","emailAddress":"grace@example.com","avatar_url":"https://img.example.com/g.png"}`,
			want: UserInfo{ID: "u2", Name: "Grace", Email: "grace@example.com", Avatar: "https://img.example.com/g.png"},
		},
		{
			name: "numeric id",
			body: `{"id":12345,"username":"linus"}`,
			want: UserInfo{ID: "12345", Name: "linus"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			engine := newTestEngine(t, Options{UserInfoURL: server.URL})
			info, err := engine.FetchUserInfo(context.Background(), "at")
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, tt.want, *info)
		})
	}
}

func TestFetchUserInfoWithoutEndpoint(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, Options{})
	info, err := engine.FetchUserInfo(context.Background(), "at")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCompleteOAuthDataToleratesUserInfoFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, Options{UserInfoURL: server.URL})
	data := engine.CompleteOAuthData(context.Background(), &Tokens{AccessToken: "at"})
	require.NotNil(t, data)
	assert.Equal(t, "at", data.AccessToken)
	assert.Nil(t, data.UserInfo, "user info stays optional when the fetch fails")
	assert.False(t, data.ConnectedAt.IsZero())
}

func TestCompleteOAuthDataIDTokenFallback(t *testing.T) {
	t.Parallel()

	idToken := compactJWS(t,
		`{"alg":"HS256","typ":"JWT"}`,
		`{"sub":"u1","name":"Ada","email":"ada@example.com"}`,
	)

	engine := newTestEngine(t, Options{})
	data := engine.CompleteOAuthData(context.Background(),
		&Tokens{AccessToken: "at", IDToken: idToken})
	require.NotNil(t, data.UserInfo)
	assert.Equal(t, "u1", data.UserInfo.ID)
	assert.Equal(t, "Ada", data.UserInfo.Name)
	assert.Equal(t, "ada@example.com", data.UserInfo.Email)
}

func compactJWS(t *testing.T, header, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(header)) + "." +
		enc.EncodeToString([]byte(payload)) + "." +
		enc.EncodeToString([]byte("signature"))
}
