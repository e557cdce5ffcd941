// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence contract for connector records.
// The core only ever talks to the Adapter interface; the memory and sqlite
// subpackages are reference implementations hosts may replace.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Update and Delete when no record exists
// for the given (scope, identity, provider) key.
var ErrRecordNotFound = errors.New("connector record not found")

// Record is one persisted connection. (Scope, Identity, Provider) identifies
// at most one record. Values under encryption-policy keys hold ciphertext;
// the core decrypts copies on read and treats them as ephemeral.
type Record struct {
	// ID is an opaque record identifier
	ID string `json:"id"`

	// Scope is the tenant bucket kind ("organization", "user", ...)
	Scope string `json:"scope"`

	// Identity is the tenant bucket id, possibly empty for system scopes
	Identity string `json:"identity"`

	// Provider is the connector key
	Provider string `json:"provider"`

	// Value is the connection config, sensitive fields encrypted
	Value map[string]any `json:"value"`

	// Enabled reports whether the connection accepts action calls
	Enabled bool `json:"enabled"`

	// CreatedAt is when the record was first saved
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the record was last written
	UpdatedAt time.Time `json:"updatedAt"`
}

// WebhookMetadata is the delivery bookkeeping stored under value.webhook.
type WebhookMetadata struct {
	// LastEventAt is when the last delivery was handled
	LastEventAt time.Time `json:"lastEventAt"`

	// LastEventResult is "success" or "error"
	LastEventResult string `json:"lastEventResult"`

	// Error describes the failure when LastEventResult is "error"
	Error string `json:"error,omitempty"`
}

// Delivery results recorded in WebhookMetadata.
const (
	// WebhookResultSuccess marks a handled delivery
	WebhookResultSuccess = "success"

	// WebhookResultError marks a failed delivery
	WebhookResultError = "error"
)

// UpdateParams selects the fields Update writes. Nil fields are left
// untouched.
type UpdateParams struct {
	// Value replaces the whole config when non-nil
	Value map[string]any

	// Enabled replaces the enabled flag when non-nil
	Enabled *bool
}

// Adapter is the persistence contract the host supplies. Implementations
// own their concurrency guarantees; the core issues one logical
// read-modify-write sequence per operation and accepts last-write-wins.
// Every method must observe ctx cancellation.
type Adapter interface {
	// Get returns the record for the key, or nil when absent.
	Get(ctx context.Context, scope, identity, provider string) (*Record, error)

	// List returns every record under (scope, identity).
	List(ctx context.Context, scope, identity string) ([]*Record, error)

	// Save upserts a record and returns it with final timestamps.
	Save(ctx context.Context, scope, identity, provider string, value map[string]any, enabled bool) (*Record, error)

	// Update modifies an existing record. Returns ErrRecordNotFound when
	// the record is absent.
	Update(ctx context.Context, scope, identity, provider string, params UpdateParams) (*Record, error)

	// Delete removes a record. Returns ErrRecordNotFound when absent.
	Delete(ctx context.Context, scope, identity, provider string) error

	// Exists reports whether a record is present for the key.
	Exists(ctx context.Context, scope, identity, provider string) (bool, error)

	// CountConnections returns how many records exist for a provider.
	CountConnections(ctx context.Context, provider string) (int, error)

	// FindByWebhookSecret returns the provider record whose webhook secret
	// matches byte-for-byte, or nil when none does.
	FindByWebhookSecret(ctx context.Context, provider, secret string) (*Record, error)

	// UpdateWebhookMetadata records the outcome of a webhook delivery on
	// the record addressed by (provider, secret).
	UpdateWebhookMetadata(ctx context.Context, provider, secret string, meta WebhookMetadata) error
}

// WebhookSecretFromValue extracts value.webhook.secret, the clear-text
// routing secret adapters index on. Returns "" when the record has no
// webhook block.
func WebhookSecretFromValue(value map[string]any) string {
	wh, ok := value["webhook"].(map[string]any)
	if !ok {
		return ""
	}
	secret, _ := wh["secret"].(string)
	return secret
}

// ApplyWebhookMetadata merges meta into value.webhook, preserving the secret
// and any other keys already present.
func ApplyWebhookMetadata(value map[string]any, meta WebhookMetadata) {
	wh, ok := value["webhook"].(map[string]any)
	if !ok {
		wh = make(map[string]any)
		value["webhook"] = wh
	}
	wh["lastEventAt"] = meta.LastEventAt.UTC().Format(time.RFC3339)
	wh["lastEventResult"] = meta.LastEventResult
	if meta.Error != "" {
		wh["error"] = meta.Error
	} else {
		delete(wh, "error")
	}
}
