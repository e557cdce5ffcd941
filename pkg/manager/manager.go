// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package manager wires connector definitions, storage, crypto, OAuth
// engines, and the HTTP boundary into one registry the host talks to.
package manager

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/crypto"
	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/storage"
	"github.com/igniterhq/connectors/pkg/urls"
)

// DefaultScope is the tenant bucket used by non-scoped action calls.
const DefaultScope = "default"

// Manager is the connector registry. Its connector and scope maps are
// immutable after New; subscriber registration is the only mutable surface.
type Manager struct {
	adapter    storage.Adapter
	log        *slog.Logger
	bus        *events.Bus
	codec      *crypto.Codec
	scopes     map[string]connector.Scope
	connectors map[string]*connector.Connector
	engines    map[string]*oauth.Engine
	urls       *urls.Builder

	onConnect    ConnectHook
	onDisconnect DisconnectHook
	onError      ErrorHook

	refreshes singleflight.Group
}

// New builds a Manager from options. It validates every connector
// definition, derives the crypto codec, and instantiates an OAuth engine
// per OAuth connector (running issuer discovery where configured).
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.adapter == nil {
		return nil, errors.Newf(errors.CodeBuildConfigRequired, "a storage adapter is required")
	}
	if len(cfg.scopes) == 0 {
		return nil, errors.Newf(errors.CodeBuildScopesRequired, "at least one scope is required")
	}
	if len(cfg.connectors) == 0 {
		return nil, errors.Newf(errors.CodeBuildConnectorsRequired, "at least one connector is required")
	}

	log := cfg.log
	if log == nil {
		log = slog.Default()
	}

	codec, err := buildCodec(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		adapter:      cfg.adapter,
		log:          log,
		bus:          events.NewBus(cfg.sink, log),
		codec:        codec,
		scopes:       make(map[string]connector.Scope, len(cfg.scopes)),
		connectors:   make(map[string]*connector.Connector, len(cfg.connectors)),
		engines:      make(map[string]*oauth.Engine),
		urls:         urls.NewBuilder(cfg.baseURL, cfg.basePath),
		onConnect:    cfg.onConnect,
		onDisconnect: cfg.onDisconnect,
		onError:      cfg.onError,
	}

	for _, scope := range cfg.scopes {
		if scope.Key == "" {
			return nil, errors.Newf(errors.CodeScopeInvalid, "scope key must not be empty")
		}
		m.scopes[scope.Key] = scope
	}

	for _, def := range cfg.connectors {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.connectors[def.Key]; dup {
			return nil, errors.Newf(errors.CodeConnectorConfigInvalid,
				"connector %q registered twice", def.Key)
		}
		m.connectors[def.Key] = def

		if def.OAuth != nil {
			engineOpts := []oauth.EngineOption{oauth.WithLogger(log)}
			if cfg.httpClient != nil {
				engineOpts = append(engineOpts, oauth.WithHTTPClient(cfg.httpClient))
			}
			if cfg.stateStores != nil {
				if store := cfg.stateStores(def.Key); store != nil {
					engineOpts = append(engineOpts, oauth.WithStateStore(store))
				}
			}
			engine, err := oauth.NewEngine(ctx, *def.OAuth, engineOpts...)
			if err != nil {
				return nil, errors.New(errors.CodeOAuthNotConfigured,
					"building oauth engine for connector "+def.Key, err)
			}
			m.engines[def.Key] = engine
		}
	}

	return m, nil
}

func buildCodec(cfg *config) (*crypto.Codec, error) {
	fields := cfg.encryptedFields
	if fields == nil {
		fields = DefaultEncryptedFields
	}
	if cfg.encryptFn != nil && cfg.decryptFn != nil {
		return crypto.NewCodecWithFuncs(cfg.encryptFn, cfg.decryptFn, fields), nil
	}
	cipher := cfg.cipher
	if cipher == nil {
		secret := cfg.secret
		if secret == "" {
			secret = crypto.SecretFromEnv()
		}
		var err error
		cipher, err = crypto.NewAESGCM(secret)
		if err != nil {
			return nil, err
		}
	}
	return crypto.NewCodec(cipher, fields), nil
}

// Close releases the OAuth engines' owned resources.
func (m *Manager) Close() error {
	var errs []error
	for _, engine := range m.engines {
		if err := engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Subscribe registers a lifecycle event subscriber and returns its
// unsubscribe function.
func (m *Manager) Subscribe(fn events.Subscriber) func() {
	return m.bus.Subscribe(fn)
}

// URLs exposes the webhook/callback URL builder.
func (m *Manager) URLs() *urls.Builder {
	return m.urls
}

// Scope derives a view bound to (scopeKey, identity). Required scopes
// refuse an empty identity.
func (m *Manager) Scope(scopeKey string, identity ...string) (*ScopedView, error) {
	scope, ok := m.scopes[scopeKey]
	if !ok {
		return nil, errors.Newf(errors.CodeScopeInvalid, "unknown scope %q", scopeKey)
	}
	id := ""
	if len(identity) > 0 {
		id = identity[0]
	}
	if scope.Required && id == "" {
		return nil, errors.Newf(errors.CodeScopeIdentifierRequired,
			"scope %q requires an identity", scopeKey)
	}
	return &ScopedView{m: m, scope: scopeKey, identity: id}, nil
}

// ListOptions filters List and controls connection-count loading.
type ListOptions struct {
	Name            string
	Limit           int
	Offset          int
	WithConnections bool
}

// ConnectorInfo is the host-facing description of a registered connector.
type ConnectorInfo struct {
	Key         string            `json:"key"`
	Type        string            `json:"type"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Fields      []connector.Field `json:"fields,omitempty"`
	Connections *int              `json:"connections,omitempty"`
}

// List returns registered connectors ordered by key.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]ConnectorInfo, error) {
	keys := make([]string, 0, len(m.connectors))
	for key := range m.connectors {
		if opts.Name != "" && !strings.Contains(key, opts.Name) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if opts.Offset > 0 {
		if opts.Offset >= len(keys) {
			keys = nil
		} else {
			keys = keys[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(keys) {
		keys = keys[:opts.Limit]
	}

	infos := make([]ConnectorInfo, 0, len(keys))
	for _, key := range keys {
		info, err := m.connectorInfo(ctx, m.connectors[key], opts.WithConnections)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Get returns one connector's info, or nil when the key is unknown.
func (m *Manager) Get(ctx context.Context, key string, opts ListOptions) (*ConnectorInfo, error) {
	def, ok := m.connectors[key]
	if !ok {
		return nil, nil
	}
	return m.connectorInfo(ctx, def, opts.WithConnections)
}

func (m *Manager) connectorInfo(ctx context.Context, def *connector.Connector, withConnections bool) (*ConnectorInfo, error) {
	info := &ConnectorInfo{
		Key:      def.Key,
		Type:     def.Type(),
		Metadata: def.Metadata,
		Fields:   connector.Fields(def),
	}
	if withConnections {
		count, err := m.adapter.CountConnections(ctx, def.Key)
		if err != nil {
			return nil, errors.New(errors.CodeDatabaseFailed, "counting connections", err)
		}
		info.Connections = &count
	}
	return info, nil
}

// Action binds an action in the default scope: it runs against the
// connector's DefaultConfig with no stored connection.
func (m *Manager) Action(connectorKey, actionName string) *ActionBinding {
	return &ActionBinding{
		m:         m,
		scope:     DefaultScope,
		identity:  "",
		connector: connectorKey,
		action:    actionName,
	}
}

// connectorByKey resolves a definition or fails CONNECTOR_NOT_FOUND.
func (m *Manager) connectorByKey(key string) (*connector.Connector, error) {
	def, ok := m.connectors[key]
	if !ok {
		return nil, errors.Newf(errors.CodeConnectorNotFound, "unknown connector %q", key)
	}
	return def, nil
}

// emit publishes a lifecycle event through the bus.
func (m *Manager) emit(ctx context.Context, event events.Event) {
	m.bus.Emit(ctx, event)
}

// reportError invokes the OnError hook when registered.
func (m *Manager) reportError(ctx context.Context, err error, connectorKey, scope, identity string) {
	if m.onError != nil {
		m.onError(ctx, err, connectorKey, scope, identity)
	}
}

// decryptedConfig decrypts a record's value per the encryption policy.
func (m *Manager) decryptedConfig(value map[string]any) (map[string]any, error) {
	return m.codec.DecryptConfig(value)
}

// refreshTokens refreshes an expired OAuth payload and persists the
// rotated tokens. Concurrent calls for the same connection share one
// provider round trip.
func (m *Manager) refreshTokens(ctx context.Context, scope, identity, connectorKey string, data *oauth.Data) (*oauth.Data, error) {
	engine, ok := m.engines[connectorKey]
	if !ok {
		return nil, errors.NewOAuthTokenExpired(connectorKey)
	}
	if !data.CanRefresh() {
		return nil, errors.NewOAuthTokenExpired(connectorKey)
	}

	key := scope + "\x00" + identity + "\x00" + connectorKey
	result, err, _ := m.refreshes.Do(key, func() (any, error) {
		refreshed, err := engine.Refresh(ctx, &data.Tokens)
		if err != nil {
			return nil, err
		}
		next := &oauth.Data{
			Tokens:      *refreshed,
			UserInfo:    data.UserInfo,
			ConnectedAt: data.ConnectedAt,
		}
		if err := m.persistOAuthData(ctx, scope, identity, connectorKey, next); err != nil {
			return nil, err
		}
		m.emit(ctx, events.NewOAuthRefreshed(connectorKey, scope, identity))
		return next, nil
	})
	if err != nil {
		return nil, errors.New(errors.CodeOAuthRefreshFailed,
			"refreshing tokens for connector "+connectorKey, err).
			WithStatus(http.StatusUnauthorized)
	}
	return result.(*oauth.Data), nil
}

// persistOAuthData writes a rotated OAuth payload back into the stored
// record, re-applying the encryption policy.
func (m *Manager) persistOAuthData(ctx context.Context, scope, identity, connectorKey string, data *oauth.Data) error {
	record, err := m.adapter.Get(ctx, scope, identity, connectorKey)
	if err != nil {
		return errors.New(errors.CodeDatabaseFailed, "loading connection", err)
	}
	if record == nil {
		return errors.Newf(errors.CodeConnectorNotConnected,
			"connector %q is not connected", connectorKey)
	}

	value, err := m.decryptedConfig(record.Value)
	if err != nil {
		return err
	}
	value["oauth"] = data.ToMap()

	encrypted, err := m.codec.EncryptConfig(value)
	if err != nil {
		return err
	}
	if _, err := m.adapter.Update(ctx, scope, identity, connectorKey,
		storage.UpdateParams{Value: encrypted}); err != nil {
		return errors.New(errors.CodeDatabaseFailed, "persisting refreshed tokens", err)
	}
	return nil
}

// now is a test seam for durations.
var now = time.Now
