// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connector defines what a third-party integration looks like to
// the registry: its config schema, optional OAuth and webhook wiring, and
// the typed actions a host can invoke against it.
package connector

import (
	"context"
	"net/http"

	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/schema"
	"github.com/igniterhq/connectors/pkg/webhook"
)

// Connector type strings reported by List/Get.
const (
	TypeOAuth  = "oauth"
	TypeCustom = "custom"
)

// Scope is a tenant bucket connections are keyed under (user,
// organization, workspace, ...). Required scopes refuse derivation
// without an identity.
type Scope struct {
	Key      string
	Required bool
}

// ActionRequest is handed to an action handler after the dispatch pipeline
// has validated input, decrypted config, and refreshed tokens.
type ActionRequest struct {
	Input    map[string]any
	Config   map[string]any
	Context  map[string]any
	OAuth    *oauth.Data
	Scope    string
	Identity string
}

// ActionHandler executes one action. The returned value is serialized as
// the action's data payload.
type ActionHandler func(ctx context.Context, req *ActionRequest) (any, error)

// Action is a named, schema-typed operation on a connector.
type Action struct {
	Description  string
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema
	Handler      ActionHandler
}

// WebhookRequest is handed to a webhook handler after secret matching,
// signature verification, and payload validation.
type WebhookRequest struct {
	Payload  map[string]any
	Config   map[string]any
	Context  map[string]any
	Scope    string
	Identity string
	Headers  http.Header
}

// WebhookHandler processes one verified delivery. The returned value is
// serialized as the HTTP response body.
type WebhookHandler func(ctx context.Context, req *WebhookRequest) (any, error)

// Webhook declares a connector's inbound event endpoint. Verify is
// optional; without it only the URL secret gates deliveries.
type Webhook struct {
	Schema  *schema.Schema
	Handler WebhookHandler
	Verify  webhook.VerifyFunc
}

// ContextFunc builds per-invocation context (API clients, derived URLs)
// from the decrypted config.
type ContextFunc func(ctx context.Context, config map[string]any) (map[string]any, error)

// ValidateFunc runs connector-specific checks beyond the config schema,
// typically a credentials probe against the provider.
type ValidateFunc func(ctx context.Context, config map[string]any) error

// Connector is a complete integration definition. Definitions are
// immutable once registered.
type Connector struct {
	Key string

	// Metadata is display information (name, logo, docs URL), optionally
	// checked against MetadataSchema at registration.
	Metadata       map[string]any
	MetadataSchema *schema.Schema

	ConfigSchema  *schema.Schema
	DefaultConfig map[string]any

	OAuth   *oauth.Options
	Webhook *Webhook

	Actions map[string]Action

	OnContext  ContextFunc
	OnValidate ValidateFunc
}

// Type reports how the connector authenticates.
func (c *Connector) Type() string {
	if c.OAuth != nil {
		return TypeOAuth
	}
	return TypeCustom
}

// Action looks up an action by name.
func (c *Connector) Action(name string) (Action, bool) {
	action, ok := c.Actions[name]
	return action, ok
}

// Validate checks the definition is registrable: a key, handlers behind
// every action, and metadata passing its schema when one is declared.
func (c *Connector) Validate() error {
	if c.Key == "" {
		return errors.Newf(errors.CodeConnectorConfigInvalid, "connector key is required")
	}
	for name, action := range c.Actions {
		if action.Handler == nil {
			return errors.Newf(errors.CodeConnectorConfigInvalid,
				"connector %q action %q has no handler", c.Key, name)
		}
	}
	if c.Webhook != nil && c.Webhook.Handler == nil {
		return errors.Newf(errors.CodeConnectorConfigInvalid,
			"connector %q declares a webhook without a handler", c.Key)
	}
	if c.MetadataSchema != nil {
		if result := c.MetadataSchema.Validate(c.Metadata); !result.OK {
			return errors.Newf(errors.CodeConnectorConfigInvalid,
				"connector %q metadata invalid: %s", c.Key, schema.JoinIssues(result.Issues))
		}
	}
	return nil
}
