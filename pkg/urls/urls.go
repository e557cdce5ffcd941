// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package urls builds and parses the connector wire URLs. The path shape is
// fixed: webhooks live at /connectors/<key>/webhook/<secret> and OAuth
// callbacks at /connectors/<key>/oauth/callback, both under an optional base
// path.
package urls

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Environment variables consulted for the base URL, in priority order.
// The explicit builder setter always wins over all of them.
var baseURLEnvVars = []string{
	"IGNITER_BASE_URL",
	"NEXT_PUBLIC_IGNITER_BASE_URL",
	"NEXT_PUBLIC_APP_URL",
	"REACT_APP_BASE_URL",
	"VITE_BASE_URL",
	"BASE_URL",
	"APP_URL",
	"VERCEL_URL",
}

// webhookSecretBytes is the entropy of a webhook secret; 16 bytes hex-encode
// to the 32-character secret that appears in the URL path.
const webhookSecretBytes = 16

var (
	webhookPathPattern  = regexp.MustCompile(`/connectors/([^/]+)/webhook/([^/]+)/?$`)
	callbackPathPattern = regexp.MustCompile(`/connectors/([^/]+)/oauth/callback/?$`)
)

// WebhookRef identifies the connection a webhook request targets.
type WebhookRef struct {
	// Connector is the connector key from the URL path
	Connector string

	// Secret is the opaque per-connection secret from the URL path
	Secret string
}

// CallbackRef identifies the connector an OAuth callback targets.
type CallbackRef struct {
	// Connector is the connector key from the URL path
	Connector string
}

// ParseWebhookPath extracts the connector key and secret from a webhook URL
// path. Returns nil when the path does not match the wire shape.
func ParseWebhookPath(path string) *WebhookRef {
	m := webhookPathPattern.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	return &WebhookRef{Connector: m[1], Secret: m[2]}
}

// ParseCallbackPath extracts the connector key from an OAuth callback URL
// path. Returns nil when the path does not match the wire shape.
func ParseCallbackPath(path string) *CallbackRef {
	m := callbackPathPattern.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	return &CallbackRef{Connector: m[1]}
}

// ResolveBaseURL picks the base URL for outward-facing URLs. An explicit
// value wins; otherwise the documented environment variables are consulted
// in priority order. Values without a scheme (VERCEL_URL is bare) are
// prefixed with https://. Trailing slashes are stripped so joining with the
// base path never doubles them.
func ResolveBaseURL(explicit string) string {
	resolved := explicit
	if resolved == "" {
		for _, name := range baseURLEnvVars {
			if v := os.Getenv(name); v != "" {
				resolved = v
				break
			}
		}
	}
	if resolved == "" {
		return ""
	}
	if !strings.Contains(resolved, "://") {
		resolved = "https://" + resolved
	}
	return strings.TrimRight(resolved, "/")
}

// Builder constructs the outward-facing connector URLs.
type Builder struct {
	baseURL  string
	basePath string
}

// NewBuilder creates a Builder. An empty baseURL falls back to the
// environment resolution chain; basePath is the prefix the host mounts the
// manager handler under ("" or "/api/v1").
func NewBuilder(baseURL, basePath string) *Builder {
	basePath = strings.TrimRight(basePath, "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return &Builder{
		baseURL:  ResolveBaseURL(baseURL),
		basePath: basePath,
	}
}

// BaseURL returns the resolved base URL.
func (b *Builder) BaseURL() string {
	return b.baseURL
}

// WebhookURL returns the full webhook endpoint for one connection.
func (b *Builder) WebhookURL(connector, secret string) string {
	return fmt.Sprintf("%s%s/connectors/%s/webhook/%s", b.baseURL, b.basePath, connector, secret)
}

// CallbackURL returns the full OAuth callback endpoint for a connector.
func (b *Builder) CallbackURL(connector string) string {
	return fmt.Sprintf("%s%s/connectors/%s/oauth/callback", b.baseURL, b.basePath, connector)
}

// GenerateWebhookSecret returns a fresh 32-character hex secret from the
// CSPRNG. The secret is the only credential guarding a webhook endpoint, so
// it must be unguessable.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, webhookSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
