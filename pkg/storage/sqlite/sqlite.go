// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a SQLite-backed storage adapter using the CGO-free
// modernc driver. Connection values are stored as JSON; the webhook secret
// is mirrored into an indexed column so delivery lookups never scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/igniterhq/connectors/pkg/storage"
)

// Adapter implements storage.Adapter over a SQLite database.
type Adapter struct {
	db *sql.DB
}

var _ storage.Adapter = (*Adapter)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string) (*Adapter, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent use.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Adapter{db: db}, nil
}

// Close closes the underlying database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// recordColumns is the SELECT column list shared by every read query.
const recordColumns = `id, scope, identity, provider, value, enabled, created_at, updated_at`

// Get returns the record for the key, or nil when absent.
func (a *Adapter) Get(ctx context.Context, scope, identity, provider string) (*storage.Record, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM connections WHERE scope = ? AND identity = ? AND provider = ?`,
		scope, identity, provider,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// List returns every record under (scope, identity), ordered by provider.
func (a *Adapter) List(ctx context.Context, scope, identity string) ([]*storage.Record, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM connections WHERE scope = ? AND identity = ? ORDER BY provider`,
		scope, identity,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection rows: %w", err)
	}
	return out, nil
}

// Save upserts a record, preserving id and created_at on overwrite.
func (a *Adapter) Save(ctx context.Context, scope, identity, provider string, value map[string]any, enabled bool) (*storage.Record, error) {
	valueJSON, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO connections (id, scope, identity, provider, value, enabled, webhook_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, identity, provider) DO UPDATE SET
			value = excluded.value,
			enabled = excluded.enabled,
			webhook_secret = excluded.webhook_secret,
			updated_at = excluded.updated_at`,
		uuid.NewString(), scope, identity, provider, valueJSON, enabled,
		secretColumn(value), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("webhook secret already in use for provider %q: %w", provider, err)
		}
		return nil, fmt.Errorf("saving connection: %w", err)
	}

	return a.Get(ctx, scope, identity, provider)
}

// Update modifies an existing record inside a transaction.
func (a *Adapter) Update(ctx context.Context, scope, identity, provider string, params storage.UpdateParams) (*storage.Record, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM connections WHERE scope = ? AND identity = ? AND provider = ?`,
		scope, identity, provider,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if params.Value != nil {
		rec.Value = params.Value
	}
	if params.Enabled != nil {
		rec.Enabled = *params.Enabled
	}
	rec.UpdatedAt = time.Now().UTC()

	valueJSON, err := encodeValue(rec.Value)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE connections SET value = ?, enabled = ?, webhook_secret = ?, updated_at = ?
		 WHERE scope = ? AND identity = ? AND provider = ?`,
		valueJSON, rec.Enabled, secretColumn(rec.Value),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		scope, identity, provider,
	)
	if err != nil {
		return nil, fmt.Errorf("updating connection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return rec, nil
}

// Delete removes a record.
func (a *Adapter) Delete(ctx context.Context, scope, identity, provider string) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM connections WHERE scope = ? AND identity = ? AND provider = ?`,
		scope, identity, provider,
	)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}

// Exists reports whether a record is present.
func (a *Adapter) Exists(ctx context.Context, scope, identity, provider string) (bool, error) {
	var one int
	err := a.db.QueryRowContext(ctx,
		`SELECT 1 FROM connections WHERE scope = ? AND identity = ? AND provider = ?`,
		scope, identity, provider,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking connection existence: %w", err)
	}
	return true, nil
}

// CountConnections returns the number of records for a provider.
func (a *Adapter) CountConnections(ctx context.Context, provider string) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connections WHERE provider = ?`, provider,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting connections: %w", err)
	}
	return count, nil
}

// FindByWebhookSecret looks up a record through the webhook_secret index.
func (a *Adapter) FindByWebhookSecret(ctx context.Context, provider, secret string) (*storage.Record, error) {
	if secret == "" {
		return nil, nil
	}
	row := a.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM connections WHERE provider = ? AND webhook_secret = ?`,
		provider, secret,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// UpdateWebhookMetadata records a delivery outcome on the matching record.
func (a *Adapter) UpdateWebhookMetadata(ctx context.Context, provider, secret string, meta storage.WebhookMetadata) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM connections WHERE provider = ? AND webhook_secret = ?`,
		provider, secret,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrRecordNotFound
	}
	if err != nil {
		return err
	}

	storage.ApplyWebhookMetadata(rec.Value, meta)
	valueJSON, err := encodeValue(rec.Value)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE connections SET value = ?, updated_at = ? WHERE provider = ? AND webhook_secret = ?`,
		valueJSON, time.Now().UTC().Format(time.RFC3339Nano), provider, secret,
	)
	if err != nil {
		return fmt.Errorf("updating webhook metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata update: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.Record, error) {
	var (
		rec       storage.Record
		valueJSON string
		createdAt string
		updatedAt string
	)
	err := s.Scan(&rec.ID, &rec.Scope, &rec.Identity, &rec.Provider,
		&valueJSON, &rec.Enabled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection row: %w", err)
	}

	if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
		return nil, fmt.Errorf("decoding connection value: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

func encodeValue(value map[string]any) (string, error) {
	if value == nil {
		return "{}", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding connection value: %w", err)
	}
	return string(data), nil
}

// secretColumn extracts the webhook secret for the indexed column, mapping
// the empty string to NULL so the partial unique index ignores records
// without webhooks.
func secretColumn(value map[string]any) any {
	if secret := storage.WebhookSecretFromValue(value); secret != "" {
		return secret
	}
	return nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
