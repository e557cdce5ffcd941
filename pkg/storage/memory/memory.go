// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory storage adapter. It is the default
// for tests and single-process deployments that can afford to lose
// connections on restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/igniterhq/connectors/pkg/storage"
)

// Adapter is a mutex-guarded map implementation of storage.Adapter.
type Adapter struct {
	mu      sync.RWMutex
	records map[recordKey]*storage.Record
}

type recordKey struct {
	scope    string
	identity string
	provider string
}

var _ storage.Adapter = (*Adapter)(nil)

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{records: make(map[recordKey]*storage.Record)}
}

// Get returns the record for the key, or nil when absent.
func (a *Adapter) Get(ctx context.Context, scope, identity, provider string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[recordKey{scope, identity, provider}]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// List returns every record under (scope, identity), ordered by provider.
func (a *Adapter) List(ctx context.Context, scope, identity string) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*storage.Record
	for key, rec := range a.records {
		if key.scope == scope && key.identity == identity {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Save upserts a record, preserving CreatedAt on overwrite.
func (a *Adapter) Save(ctx context.Context, scope, identity, provider string, value map[string]any, enabled bool) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	key := recordKey{scope, identity, provider}
	rec := &storage.Record{
		ID:        uuid.NewString(),
		Scope:     scope,
		Identity:  identity,
		Provider:  provider,
		Value:     copyValue(value),
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := a.records[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	a.records[key] = rec
	return copyRecord(rec), nil
}

// Update modifies an existing record.
func (a *Adapter) Update(ctx context.Context, scope, identity, provider string, params storage.UpdateParams) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[recordKey{scope, identity, provider}]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	if params.Value != nil {
		rec.Value = copyValue(params.Value)
	}
	if params.Enabled != nil {
		rec.Enabled = *params.Enabled
	}
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

// Delete removes a record.
func (a *Adapter) Delete(ctx context.Context, scope, identity, provider string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := recordKey{scope, identity, provider}
	if _, ok := a.records[key]; !ok {
		return storage.ErrRecordNotFound
	}
	delete(a.records, key)
	return nil
}

// Exists reports whether a record is present.
func (a *Adapter) Exists(ctx context.Context, scope, identity, provider string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.records[recordKey{scope, identity, provider}]
	return ok, nil
}

// CountConnections returns the number of records for a provider.
func (a *Adapter) CountConnections(ctx context.Context, provider string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	count := 0
	for key := range a.records {
		if key.provider == provider {
			count++
		}
	}
	return count, nil
}

// FindByWebhookSecret scans provider records for a matching webhook secret.
func (a *Adapter) FindByWebhookSecret(ctx context.Context, provider, secret string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	for key, rec := range a.records {
		if key.provider == provider && storage.WebhookSecretFromValue(rec.Value) == secret {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

// UpdateWebhookMetadata records a delivery outcome on the matching record.
func (a *Adapter) UpdateWebhookMetadata(ctx context.Context, provider, secret string, meta storage.WebhookMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, rec := range a.records {
		if key.provider == provider && storage.WebhookSecretFromValue(rec.Value) == secret {
			storage.ApplyWebhookMetadata(rec.Value, meta)
			rec.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return storage.ErrRecordNotFound
}

// copyRecord returns a defensive copy so callers never alias stored state.
func copyRecord(rec *storage.Record) *storage.Record {
	out := *rec
	out.Value = copyValue(rec.Value)
	return &out
}

// copyValue deep-copies the config map via a JSON round trip. Config values
// are JSON-shaped by construction.
func copyValue(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		// Config maps come from JSON; a marshal failure means a programming
		// error upstream.
		panic(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}
