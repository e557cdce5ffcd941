// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/oauth"
)

const (
	oauthCookiePrefix = "igniter_oauth_"
	oauthCookieMaxAge = 600
)

// StartOAuthOptions parameterizes an authorization redirect.
type StartOAuthOptions struct {
	// Scope and Identity key the connection the callback will write.
	Scope    string
	Identity string

	// RedirectURL is where the user lands after the flow ("/" when empty).
	RedirectURL string

	// RedirectURI overrides the provider callback URL derived from the
	// manager's base URL.
	RedirectURI string
}

// OAuthRedirect is a prepared authorization redirect: the provider URL,
// the CSRF state, and the recovery cookie the callback reads.
type OAuthRedirect struct {
	URL    string
	State  string
	Cookie *http.Cookie
}

// oauthCookiePayload is the urlencoded JSON stored in the recovery cookie.
type oauthCookiePayload struct {
	Scope       string `json:"scope"`
	Identity    string `json:"identity"`
	RedirectURL string `json:"redirectUrl"`
	State       string `json:"state"`
}

func oauthCookieName(connectorKey string) string {
	return oauthCookiePrefix + connectorKey
}

// StartOAuth begins the authorization flow over HTTP: it sets the
// recovery cookie and 302s the user to the provider's consent screen.
func (m *Manager) StartOAuth(w http.ResponseWriter, r *http.Request, connectorKey string, opts StartOAuthOptions) error {
	redirect, err := m.buildOAuthRedirect(r.Context(), connectorKey, opts)
	if err != nil {
		return err
	}
	http.SetCookie(w, redirect.Cookie)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
	return nil
}

// buildOAuthRedirect creates the pending state and authorization URL.
func (m *Manager) buildOAuthRedirect(ctx context.Context, connectorKey string, opts StartOAuthOptions) (*OAuthRedirect, error) {
	if _, err := m.connectorByKey(connectorKey); err != nil {
		return nil, err
	}
	engine, ok := m.engines[connectorKey]
	if !ok {
		return nil, errors.Newf(errors.CodeOAuthNotConfigured,
			"connector %q has no oauth configuration", connectorKey)
	}

	scope := opts.Scope
	if scope == "" {
		scope = DefaultScope
	}
	redirectURL := opts.RedirectURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	redirectURI := opts.RedirectURI
	if redirectURI == "" {
		redirectURI = m.urls.CallbackURL(connectorKey)
	}

	result, err := engine.GenerateAuthURL(ctx, redirectURI, oauth.PendingState{
		Scope:     scope,
		Identity:  opts.Identity,
		Connector: connectorKey,
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(oauthCookiePayload{
		Scope:       scope,
		Identity:    opts.Identity,
		RedirectURL: redirectURL,
		State:       result.State,
	})
	if err != nil {
		return nil, errors.New(errors.CodeOAuthTokenFailed, "encoding oauth cookie", err)
	}

	m.emit(ctx, events.NewOAuthStarted(connectorKey, scope, opts.Identity))

	return &OAuthRedirect{
		URL:   result.URL,
		State: result.State,
		Cookie: &http.Cookie{
			Name:     oauthCookieName(connectorKey),
			Value:    url.QueryEscape(string(payload)),
			Path:     "/",
			MaxAge:   oauthCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}, nil
}

// handleOAuthCallback finishes the flow. Every failure becomes an error
// redirect back into the host app; the callback never answers 5xx.
func (m *Manager) handleOAuthCallback(w http.ResponseWriter, r *http.Request, connectorKey string) {
	ctx := r.Context()

	recovery := oauthCookiePayload{Scope: DefaultScope, RedirectURL: "/"}
	if cookie, err := r.Cookie(oauthCookieName(connectorKey)); err == nil {
		if decoded, err := url.QueryUnescape(cookie.Value); err == nil {
			var parsed oauthCookiePayload
			if json.Unmarshal([]byte(decoded), &parsed) == nil {
				if parsed.Scope != "" {
					recovery.Scope = parsed.Scope
				}
				recovery.Identity = parsed.Identity
				if parsed.RedirectURL != "" {
					recovery.RedirectURL = parsed.RedirectURL
				}
				recovery.State = parsed.State
			}
		}
	}

	fail := func(err error) {
		m.emit(ctx, events.NewOAuthFailed(connectorKey, recovery.Scope, recovery.Identity,
			string(errors.CodeOf(err)), err.Error()))
		m.reportError(ctx, err, connectorKey, recovery.Scope, recovery.Identity)
		m.clearOAuthCookie(w, connectorKey)
		http.Redirect(w, r, appendQuery(recovery.RedirectURL, url.Values{
			"status":    {"error"},
			"connector": {connectorKey},
			"error":     {err.Error()},
		}), http.StatusFound)
	}

	def, ok := m.connectors[connectorKey]
	if !ok {
		fail(errors.Newf(errors.CodeConnectorNotFound, "unknown connector %q", connectorKey))
		return
	}
	engine, ok := m.engines[connectorKey]
	if !ok {
		fail(errors.Newf(errors.CodeOAuthNotConfigured,
			"connector %q has no oauth configuration", connectorKey))
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		if desc := query.Get("error_description"); desc != "" {
			providerErr += ": " + desc
		}
		fail(errors.Newf(errors.CodeOAuthTokenFailed, "provider error: %s", providerErr))
		return
	}

	pending, err := engine.ConsumeState(ctx, query.Get("state"))
	if err != nil {
		fail(err)
		return
	}
	// The pending state is authoritative; the cookie only recovers what
	// the provider round trip could not carry.
	if pending.Scope != "" {
		recovery.Scope = pending.Scope
		recovery.Identity = pending.Identity
	}

	tokens, err := engine.ExchangeCode(ctx, query.Get("code"), m.urls.CallbackURL(connectorKey), pending)
	if err != nil {
		fail(err)
		return
	}

	data := engine.CompleteOAuthData(ctx, tokens)
	value := map[string]any{"oauth": data.ToMap()}
	for key, val := range def.DefaultConfig {
		if _, exists := value[key]; !exists {
			value[key] = val
		}
	}

	encrypted, err := m.codec.EncryptConfig(value)
	if err != nil {
		fail(err)
		return
	}
	record, err := m.adapter.Save(ctx, recovery.Scope, recovery.Identity, connectorKey, encrypted, true)
	if err != nil {
		fail(errors.New(errors.CodeDatabaseFailed, "saving connection", err))
		return
	}

	if m.onConnect != nil {
		if err := m.onConnect(ctx, recovery.Scope, recovery.Identity, connectorKey, record); err != nil {
			fail(err)
			return
		}
	}
	m.emit(ctx, events.NewOAuthCompleted(connectorKey, recovery.Scope, recovery.Identity))
	m.emit(ctx, events.NewConnectorEvent(events.TypeConnectorConnected,
		connectorKey, recovery.Scope, recovery.Identity))

	m.clearOAuthCookie(w, connectorKey)
	http.Redirect(w, r, appendQuery(recovery.RedirectURL, url.Values{
		"status":    {"success"},
		"connector": {connectorKey},
	}), http.StatusFound)
}

func (m *Manager) clearOAuthCookie(w http.ResponseWriter, connectorKey string) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthCookieName(connectorKey),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func appendQuery(target string, params url.Values) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}
