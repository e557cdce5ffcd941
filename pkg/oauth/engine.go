// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/tidwall/gjson"

	"github.com/igniterhq/connectors/pkg/errors"
)

const (
	// maxResponseBytes bounds token and user-info response bodies.
	maxResponseBytes = 1 << 20

	defaultHTTPTimeout = 30 * time.Second
	maxTokenAttempts   = 3
)

// Options declares a connector's OAuth configuration. AuthorizationURL and
// TokenURL are required unless Issuer is set, in which case OIDC discovery
// fills any endpoint left empty.
type Options struct {
	ClientID     string
	ClientSecret string

	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	// Issuer enables OIDC discovery of the endpoints above.
	Issuer string

	Scopes  []string
	UsePKCE bool

	// ExtraAuthParams are provider-specific query parameters appended to
	// the authorization URL (access_type, prompt, ...).
	ExtraAuthParams map[string]string

	// ParseTokenResponse and ParseUserInfo override the built-in
	// auto-detecting parsers for providers with non-standard responses.
	ParseTokenResponse func(body []byte) (*Tokens, error)
	ParseUserInfo      func(body []byte) (*UserInfo, error)

	// StateTTL bounds pending authorizations; DefaultStateTTL when zero.
	StateTTL time.Duration
}

// Engine drives the authorization-code flow for one connector.
type Engine struct {
	opts       Options
	states     StateStore
	ownsStates bool
	httpClient *http.Client
	log        *slog.Logger
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *Engine) { e.httpClient = client }
}

// WithStateStore injects a shared state store (e.g. Redis). The engine
// does not close injected stores.
func WithStateStore(store StateStore) EngineOption {
	return func(e *Engine) {
		e.states = store
		e.ownsStates = false
	}
}

// WithLogger overrides the engine's logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine validates opts, runs issuer discovery if configured, and wires
// defaults: an in-memory state store and a timeout-bounded HTTP client.
func NewEngine(ctx context.Context, opts Options, engineOpts ...EngineOption) (*Engine, error) {
	if opts.ClientID == "" {
		return nil, errors.Newf(errors.CodeOAuthNotConfigured, "oauth client id is required")
	}

	e := &Engine{opts: opts}
	for _, opt := range engineOpts {
		opt(e)
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if e.log == nil {
		e.log = slog.Default()
	}

	if e.opts.Issuer != "" {
		if err := e.discoverEndpoints(ctx); err != nil {
			return nil, err
		}
	}
	if e.opts.AuthorizationURL == "" || e.opts.TokenURL == "" {
		return nil, errors.Newf(errors.CodeOAuthNotConfigured,
			"oauth requires authorization and token URLs (or an issuer for discovery)")
	}

	if e.states == nil {
		e.states = NewMemoryStateStore(e.opts.StateTTL)
		e.ownsStates = true
	}
	return e, nil
}

// Options returns the engine's (post-discovery) configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// Close releases the state store when the engine owns it.
func (e *Engine) Close() error {
	if e.ownsStates {
		return e.states.Close()
	}
	return nil
}

func (e *Engine) discoverEndpoints(ctx context.Context) error {
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, e.httpClient), e.opts.Issuer)
	if err != nil {
		return errors.New(errors.CodeOAuthNotConfigured,
			fmt.Sprintf("discovering endpoints for issuer %q", e.opts.Issuer), err)
	}
	endpoint := provider.Endpoint()
	if e.opts.AuthorizationURL == "" {
		e.opts.AuthorizationURL = endpoint.AuthURL
	}
	if e.opts.TokenURL == "" {
		e.opts.TokenURL = endpoint.TokenURL
	}
	if e.opts.UserInfoURL == "" {
		e.opts.UserInfoURL = provider.UserInfoEndpoint()
	}
	return nil
}

// AuthURLResult carries the provider redirect target plus the state token
// the caller must round-trip (the manager stores it in the recovery cookie).
type AuthURLResult struct {
	URL   string
	State string
}

// GenerateAuthURL creates and stores a pending state, then builds the
// provider authorization URL for it.
func (e *Engine) GenerateAuthURL(ctx context.Context, redirectURI string, pending PendingState) (*AuthURLResult, error) {
	state, err := GenerateStateToken()
	if err != nil {
		return nil, errors.New(errors.CodeOAuthTokenFailed, "generating state token", err)
	}
	pending.CreatedAt = time.Now().UTC()
	if e.opts.UsePKCE {
		verifier, err := GenerateCodeVerifier()
		if err != nil {
			return nil, errors.New(errors.CodeOAuthTokenFailed, "generating code verifier", err)
		}
		pending.CodeVerifier = verifier
	}
	if err := e.states.Put(ctx, state, pending); err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "storing oauth state", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", e.opts.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if len(e.opts.Scopes) > 0 {
		q.Set("scope", strings.Join(e.opts.Scopes, " "))
	}
	if pending.CodeVerifier != "" {
		q.Set("code_challenge", CodeChallenge(pending.CodeVerifier))
		q.Set("code_challenge_method", "S256")
	}
	for key, value := range e.opts.ExtraAuthParams {
		q.Set(key, value)
	}

	sep := "?"
	if strings.Contains(e.opts.AuthorizationURL, "?") {
		sep = "&"
	}
	return &AuthURLResult{URL: e.opts.AuthorizationURL + sep + q.Encode(), State: state}, nil
}

// ConsumeState validates and atomically consumes a callback state token.
func (e *Engine) ConsumeState(ctx context.Context, token string) (*PendingState, error) {
	if token == "" {
		return nil, errors.Newf(errors.CodeOAuthStateInvalid, "callback carried no state parameter")
	}
	pending, err := e.states.TakeIfValid(ctx, token)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "consuming oauth state", err)
	}
	if pending == nil {
		return nil, errors.Newf(errors.CodeOAuthStateInvalid, "state is missing, expired, or already used")
	}
	return pending, nil
}

// ExchangeCode trades an authorization code for tokens. The pending state
// supplies the PKCE verifier when the flow used one.
func (e *Engine) ExchangeCode(ctx context.Context, code, redirectURI string, pending *PendingState) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", e.opts.ClientID)
	form.Set("redirect_uri", redirectURI)
	if e.opts.ClientSecret != "" {
		form.Set("client_secret", e.opts.ClientSecret)
	}
	if pending != nil && pending.CodeVerifier != "" {
		form.Set("code_verifier", pending.CodeVerifier)
	}
	return e.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for fresh tokens. Providers that rotate
// refresh tokens return a new one; those that omit it keep the old one.
func (e *Engine) Refresh(ctx context.Context, tokens *Tokens) (*Tokens, error) {
	if !tokens.CanRefresh() {
		return nil, errors.Newf(errors.CodeOAuthRefreshFailed, "no refresh token available")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tokens.RefreshToken)
	form.Set("client_id", e.opts.ClientID)
	if e.opts.ClientSecret != "" {
		form.Set("client_secret", e.opts.ClientSecret)
	}
	refreshed, err := e.tokenRequest(ctx, form)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, nil
}

// tokenRequest POSTs a form to the token endpoint. Transport errors and
// 5xx responses are retried with exponential backoff; 4xx responses are
// final.
func (e *Engine) tokenRequest(ctx context.Context, form url.Values) (*Tokens, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.TokenURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.Newf(errors.CodeOAuthTokenFailed,
				"token endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, backoff.Permanent(errors.Newf(errors.CodeOAuthTokenFailed,
				"token endpoint returned %d: %s", resp.StatusCode, snippet(body)))
		}
		return body, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTokenAttempts),
	)
	if err != nil {
		if cerr := errors.FromContext(err); errors.IsCancelled(cerr) {
			return nil, cerr
		}
		if errors.IsCode(err, errors.CodeOAuthTokenFailed) {
			return nil, err
		}
		return nil, errors.New(errors.CodeOAuthTokenFailed, "requesting tokens", err)
	}

	if e.opts.ParseTokenResponse != nil {
		tokens, err := e.opts.ParseTokenResponse(body)
		if err != nil {
			return nil, errors.New(errors.CodeOAuthParseTokenFailed, "parsing token response", err)
		}
		return tokens, nil
	}
	return detectTokens(body)
}

// FetchUserInfo retrieves the provider's user identity for an access token.
// Returns (nil, nil) when the connector has no user-info endpoint.
func (e *Engine) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if e.opts.UserInfoURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.opts.UserInfoURL, nil)
	if err != nil {
		return nil, errors.New(errors.CodeOAuthParseUserInfoFailed, "building user info request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeOAuthParseUserInfoFailed, "fetching user info", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.New(errors.CodeOAuthParseUserInfoFailed, "reading user info response", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.Newf(errors.CodeOAuthParseUserInfoFailed,
			"user info endpoint returned %d", resp.StatusCode)
	}

	if e.opts.ParseUserInfo != nil {
		info, err := e.opts.ParseUserInfo(body)
		if err != nil {
			return nil, errors.New(errors.CodeOAuthParseUserInfoFailed, "parsing user info", err)
		}
		return info, nil
	}
	return detectUserInfo(body)
}

// CompleteOAuthData assembles the persisted payload after an exchange:
// tokens, a connection timestamp, and user info when obtainable. User-info
// enrichment is best-effort; a failure there never discards valid tokens.
func (e *Engine) CompleteOAuthData(ctx context.Context, tokens *Tokens) *Data {
	data := &Data{Tokens: *tokens, ConnectedAt: time.Now().UTC()}
	if e.opts.UserInfoURL != "" {
		info, err := e.FetchUserInfo(ctx, tokens.AccessToken)
		if err != nil {
			e.log.WarnContext(ctx, "user info fetch failed", "error", err)
		} else {
			data.UserInfo = info
		}
	}
	if data.UserInfo == nil && tokens.IDToken != "" {
		data.UserInfo = userInfoFromIDToken(tokens.IDToken)
	}
	return data
}

var (
	accessTokenKeys  = []string{"access_token", "accessToken", "token"}
	refreshTokenKeys = []string{"refresh_token", "refreshToken"}
	expiresInKeys    = []string{"expires_in", "expiresIn", "expires"}
	tokenTypeKeys    = []string{"token_type", "tokenType"}

	userIDKeys     = []string{"id", "sub", "user_id", "userId", "uid"}
	userNameKeys   = []string{"name", "displayName", "display_name", "username", "full_name", "fullName"}
	userEmailKeys  = []string{"email", "emailAddress", "email_address", "mail"}
	userAvatarKeys = []string{"avatar", "picture", "avatar_url", "photo", "image", "profile_image"}
)

// detectTokens parses a token response without a provider-specific schema,
// probing the field spellings seen across real providers.
func detectTokens(body []byte) (*Tokens, error) {
	access := firstJSONString(body, accessTokenKeys)
	if access == "" {
		return nil, errors.Newf(errors.CodeOAuthParseTokenFailed,
			"token response carries no recognizable access token")
	}
	tokens := &Tokens{
		AccessToken:  access,
		RefreshToken: firstJSONString(body, refreshTokenKeys),
		TokenType:    firstJSONString(body, tokenTypeKeys),
		IDToken:      gjson.GetBytes(body, "id_token").String(),
	}
	for _, key := range expiresInKeys {
		if v := gjson.GetBytes(body, key); v.Exists() {
			tokens.ExpiresIn = v.Int()
			break
		}
	}
	if tokens.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

func detectUserInfo(body []byte) (*UserInfo, error) {
	id := firstJSONString(body, userIDKeys)
	if id == "" {
		return nil, errors.Newf(errors.CodeOAuthParseUserInfoFailed,
			"user info response carries no recognizable id")
	}
	return &UserInfo{
		ID:     id,
		Name:   firstJSONString(body, userNameKeys),
		Email:  firstJSONString(body, userEmailKeys),
		Avatar: firstJSONString(body, userAvatarKeys),
	}, nil
}

// userInfoFromIDToken recovers identity claims from an OIDC id_token when
// no user-info endpoint is configured. The token came straight from the
// token endpoint over TLS, so claims are read without signature
// verification.
func userInfoFromIDToken(idToken string) *UserInfo {
	msg, err := jws.Parse([]byte(idToken))
	if err != nil {
		return nil
	}
	payload := msg.Payload()
	id := firstJSONString(payload, userIDKeys)
	if id == "" {
		return nil
	}
	return &UserInfo{
		ID:     id,
		Name:   firstJSONString(payload, userNameKeys),
		Email:  firstJSONString(payload, userEmailKeys),
		Avatar: firstJSONString(payload, userAvatarKeys),
	}
}

// firstJSONString returns the first non-empty string value among keys.
// Numeric values stringify, so numeric user ids are handled too.
func firstJSONString(body []byte, keys []string) string {
	for _, key := range keys {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
