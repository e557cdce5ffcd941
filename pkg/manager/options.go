// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/crypto"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/storage"
	"github.com/igniterhq/connectors/pkg/telemetry"
)

// DefaultEncryptedFields is the at-rest encryption policy applied when the
// host does not supply one. The webhook secret stays plaintext: delivery
// routing looks it up byte-for-byte.
var DefaultEncryptedFields = []string{"oauth.accessToken", "oauth.refreshToken"}

// ConnectHook runs after a connection record is written, before the
// connected event. A returned error surfaces to the caller.
type ConnectHook func(ctx context.Context, scope, identity, connectorKey string, record *storage.Record) error

// DisconnectHook runs after a connection record is removed.
type DisconnectHook func(ctx context.Context, scope, identity, connectorKey string) error

// ErrorHook observes pipeline failures (action handlers, OAuth legs,
// webhook deliveries). It must not block for long.
type ErrorHook func(ctx context.Context, err error, connectorKey, scope, identity string)

// StateStoreFactory builds the OAuth state store for a connector's engine.
// Returning nil falls back to the engine's in-memory store.
type StateStoreFactory func(connectorKey string) oauth.StateStore

type config struct {
	adapter    storage.Adapter
	log        *slog.Logger
	sink       telemetry.Sink
	scopes     []connector.Scope
	connectors []*connector.Connector

	secret          string
	cipher          crypto.Cipher
	encryptFn       crypto.EncryptFunc
	decryptFn       crypto.DecryptFunc
	encryptedFields []string

	onConnect    ConnectHook
	onDisconnect DisconnectHook
	onError      ErrorHook

	baseURL  string
	basePath string

	stateStores StateStoreFactory
	httpClient  *http.Client
}

// Option configures the manager at build time.
type Option func(*config)

// WithAdapter sets the storage adapter. Required.
func WithAdapter(adapter storage.Adapter) Option {
	return func(c *config) { c.adapter = adapter }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithTelemetrySink routes lifecycle events to a telemetry backend.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(c *config) { c.sink = sink }
}

// WithScopes declares the tenant buckets connections are keyed under.
// Required.
func WithScopes(scopes ...connector.Scope) Option {
	return func(c *config) { c.scopes = append(c.scopes, scopes...) }
}

// WithConnectors registers connector definitions. Required.
func WithConnectors(defs ...*connector.Connector) Option {
	return func(c *config) { c.connectors = append(c.connectors, defs...) }
}

// WithEncryptionSecret sets the AES-256-GCM key material, overriding the
// IGNITER_SECRET environment variable.
func WithEncryptionSecret(secret string) Option {
	return func(c *config) { c.secret = secret }
}

// WithCipher replaces the built-in cipher.
func WithCipher(cipher crypto.Cipher) Option {
	return func(c *config) { c.cipher = cipher }
}

// WithEncryptionFuncs installs opaque encrypt/decrypt functions, e.g. a
// KMS round trip. The built-in key is never derived when set.
func WithEncryptionFuncs(encrypt crypto.EncryptFunc, decrypt crypto.DecryptFunc) Option {
	return func(c *config) {
		c.encryptFn = encrypt
		c.decryptFn = decrypt
	}
}

// WithEncryptedFields replaces the at-rest encryption policy. Paths are
// dot-separated into the connection value (`oauth.accessToken`).
func WithEncryptedFields(fields ...string) Option {
	return func(c *config) { c.encryptedFields = fields }
}

// WithOnConnect registers the connect lifecycle hook.
func WithOnConnect(hook ConnectHook) Option {
	return func(c *config) { c.onConnect = hook }
}

// WithOnDisconnect registers the disconnect lifecycle hook.
func WithOnDisconnect(hook DisconnectHook) Option {
	return func(c *config) { c.onDisconnect = hook }
}

// WithOnError registers the error observation hook.
func WithOnError(hook ErrorHook) Option {
	return func(c *config) { c.onError = hook }
}

// WithBaseURL sets the public base URL for webhook and callback URLs,
// overriding environment resolution.
func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = baseURL }
}

// WithBasePath sets the path prefix the manager is mounted under.
func WithBasePath(basePath string) Option {
	return func(c *config) { c.basePath = basePath }
}

// WithStateStoreFactory supplies shared OAuth state stores (e.g. Redis)
// per connector.
func WithStateStoreFactory(factory StateStoreFactory) Option {
	return func(c *config) { c.stateStores = factory }
}

// WithHTTPClient sets the client used for provider calls (token exchange,
// user info, discovery).
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}
