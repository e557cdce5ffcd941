// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/schema"
	"github.com/igniterhq/connectors/pkg/storage"
	"github.com/igniterhq/connectors/pkg/urls"
)

// ScopedView is the manager bound to one (scope, identity) tenant bucket.
type ScopedView struct {
	m        *Manager
	scope    string
	identity string
}

// ScopeKey returns the bound scope key.
func (s *ScopedView) ScopeKey() string { return s.scope }

// Identity returns the bound identity.
func (s *ScopedView) Identity() string { return s.identity }

// InstallResult is the outcome of Install. Exactly one branch is set:
// Record for connectors installed directly, OAuth for connectors that need
// the user sent through the provider's consent screen first.
type InstallResult struct {
	Record     *storage.Record
	WebhookURL string
	OAuth      *OAuthRedirect
}

// Install connects a connector in this scope. OAuth connectors yield a
// redirect instead of a record; the connection is written by the callback.
func (s *ScopedView) Install(ctx context.Context, connectorKey string, config map[string]any) (*InstallResult, error) {
	def, err := s.m.connectorByKey(connectorKey)
	if err != nil {
		return nil, err
	}

	if def.OAuth != nil {
		redirect, err := s.m.buildOAuthRedirect(ctx, connectorKey, StartOAuthOptions{
			Scope:    s.scope,
			Identity: s.identity,
		})
		if err != nil {
			return nil, err
		}
		return &InstallResult{OAuth: redirect}, nil
	}

	exists, err := s.m.adapter.Exists(ctx, s.scope, s.identity, connectorKey)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "checking connection", err)
	}
	if exists {
		return nil, errors.Newf(errors.CodeConnectorAlreadyConnected,
			"connector %q is already connected", connectorKey)
	}

	if config == nil {
		config = map[string]any{}
	}
	if err := s.validateConfig(ctx, def, config); err != nil {
		return nil, err
	}

	value := make(map[string]any, len(config)+1)
	for k, v := range config {
		value[k] = v
	}

	webhookURL := ""
	if def.Webhook != nil {
		secret, err := urls.GenerateWebhookSecret()
		if err != nil {
			return nil, errors.New(errors.CodeDatabaseFailed, "generating webhook secret", err)
		}
		value["webhook"] = map[string]any{
			"secret":    secret,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		}
		webhookURL = s.m.urls.WebhookURL(connectorKey, secret)
	}

	encrypted, err := s.m.codec.EncryptConfig(value)
	if err != nil {
		return nil, err
	}
	record, err := s.m.adapter.Save(ctx, s.scope, s.identity, connectorKey, encrypted, true)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "saving connection", err)
	}

	if s.m.onConnect != nil {
		if err := s.m.onConnect(ctx, s.scope, s.identity, connectorKey, record); err != nil {
			return nil, err
		}
	}
	s.m.emit(ctx, events.NewConnectorEvent(events.TypeConnectorConnected,
		connectorKey, s.scope, s.identity))

	return &InstallResult{Record: record, WebhookURL: webhookURL}, nil
}

// validateConfig runs the schema and the OnValidate hook against config.
func (s *ScopedView) validateConfig(ctx context.Context, def *connector.Connector, config map[string]any) error {
	if def.ConfigSchema != nil {
		if result := def.ConfigSchema.Validate(config); !result.OK {
			return errors.Newf(errors.CodeConnectorConfigInvalid,
				"config invalid: %s", schema.JoinIssues(result.Issues))
		}
	}
	if def.OnValidate != nil {
		if err := def.OnValidate(ctx, config); err != nil {
			return errors.New(errors.CodeConnectorConfigInvalid,
				"connector validation failed", err)
		}
	}
	return nil
}

// Update replaces the user-editable config of an existing connection. The
// oauth and webhook sections survive the update untouched.
func (s *ScopedView) Update(ctx context.Context, connectorKey string, config map[string]any) (*storage.Record, error) {
	def, err := s.m.connectorByKey(connectorKey)
	if err != nil {
		return nil, err
	}
	record, err := s.m.adapter.Get(ctx, s.scope, s.identity, connectorKey)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "loading connection", err)
	}
	if record == nil {
		return nil, errors.Newf(errors.CodeConnectorNotConnected,
			"connector %q is not connected", connectorKey)
	}

	if config == nil {
		config = map[string]any{}
	}
	if err := s.validateConfig(ctx, def, config); err != nil {
		return nil, err
	}

	current, err := s.m.decryptedConfig(record.Value)
	if err != nil {
		return nil, err
	}
	value := make(map[string]any, len(config)+2)
	for k, v := range config {
		value[k] = v
	}
	for _, reserved := range []string{"oauth", "webhook"} {
		if section, ok := current[reserved]; ok {
			value[reserved] = section
		}
	}

	encrypted, err := s.m.codec.EncryptConfig(value)
	if err != nil {
		return nil, err
	}
	updated, err := s.m.adapter.Update(ctx, s.scope, s.identity, connectorKey,
		storage.UpdateParams{Value: encrypted})
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "updating connection", err)
	}
	s.m.emit(ctx, events.NewConnectorEvent(events.TypeConnectorUpdated,
		connectorKey, s.scope, s.identity))
	return updated, nil
}

// Disconnect removes the connection for a connector.
func (s *ScopedView) Disconnect(ctx context.Context, connectorKey string) error {
	if _, err := s.m.connectorByKey(connectorKey); err != nil {
		return err
	}
	if err := s.m.adapter.Delete(ctx, s.scope, s.identity, connectorKey); err != nil {
		if stderrors.Is(err, storage.ErrRecordNotFound) {
			return errors.Newf(errors.CodeConnectorNotConnected,
				"connector %q is not connected", connectorKey)
		}
		return errors.New(errors.CodeDatabaseFailed, "deleting connection", err)
	}
	s.m.emit(ctx, events.NewConnectorEvent(events.TypeConnectorDisconnected,
		connectorKey, s.scope, s.identity))
	if s.m.onDisconnect != nil {
		if err := s.m.onDisconnect(ctx, s.scope, s.identity, connectorKey); err != nil {
			return err
		}
	}
	return nil
}

// Toggle flips or sets a connection's enabled flag. A nil enabled flips
// the current value.
func (s *ScopedView) Toggle(ctx context.Context, connectorKey string, enabled *bool) (*storage.Record, error) {
	if _, err := s.m.connectorByKey(connectorKey); err != nil {
		return nil, err
	}
	record, err := s.m.adapter.Get(ctx, s.scope, s.identity, connectorKey)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "loading connection", err)
	}
	if record == nil {
		return nil, errors.Newf(errors.CodeConnectorNotConnected,
			"connector %q is not connected", connectorKey)
	}

	next := !record.Enabled
	if enabled != nil {
		next = *enabled
	}
	updated, err := s.m.adapter.Update(ctx, s.scope, s.identity, connectorKey,
		storage.UpdateParams{Enabled: &next})
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "toggling connection", err)
	}

	eventType := events.TypeConnectorDisabled
	if next {
		eventType = events.TypeConnectorEnabled
	}
	s.m.emit(ctx, events.NewConnectorEvent(eventType, connectorKey, s.scope, s.identity))
	return updated, nil
}

// Connection returns this scope's record for a connector with the
// encryption policy unapplied, or nil when not connected.
func (s *ScopedView) Connection(ctx context.Context, connectorKey string) (*storage.Record, error) {
	if _, err := s.m.connectorByKey(connectorKey); err != nil {
		return nil, err
	}
	record, err := s.m.adapter.Get(ctx, s.scope, s.identity, connectorKey)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "loading connection", err)
	}
	if record == nil {
		return nil, nil
	}
	value, err := s.m.decryptedConfig(record.Value)
	if err != nil {
		return nil, err
	}
	record.Value = value
	return record, nil
}

// List returns every connection in this scope, values left encrypted.
func (s *ScopedView) List(ctx context.Context) ([]*storage.Record, error) {
	records, err := s.m.adapter.List(ctx, s.scope, s.identity)
	if err != nil {
		return nil, errors.New(errors.CodeDatabaseFailed, "listing connections", err)
	}
	return records, nil
}

// Action binds an action to this scope for invocation.
func (s *ScopedView) Action(connectorKey, actionName string) *ActionBinding {
	return &ActionBinding{
		m:         s.m,
		scope:     s.scope,
		identity:  s.identity,
		connector: connectorKey,
		action:    actionName,
	}
}
