// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces pending-state keys in a shared Redis.
const DefaultRedisKeyPrefix = "igniter:oauth:state:"

// RedisStateStore is a StateStore for multi-node deployments. Expiry is
// enforced by Redis key TTLs and consumption by GETDEL, so states stay
// single-use across processes.
type RedisStateStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	ttl        time.Duration
	ownsClient bool
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore connects a new Redis client from opts. The store owns
// the client and closes it on Close.
func NewRedisStateStore(opts *redis.UniversalOptions, ttl time.Duration) *RedisStateStore {
	s := NewRedisStateStoreWithClient(redis.NewUniversalClient(opts), ttl)
	s.ownsClient = true
	return s
}

// NewRedisStateStoreWithClient wraps an existing client; the caller keeps
// ownership of it. Used by tests to inject a miniredis-backed client.
func NewRedisStateStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{
		client:    client,
		keyPrefix: DefaultRedisKeyPrefix,
		ttl:       ttl,
	}
}

// WithKeyPrefix overrides the key namespace.
func (s *RedisStateStore) WithKeyPrefix(prefix string) *RedisStateStore {
	s.keyPrefix = prefix
	return s
}

// Put implements StateStore.
func (s *RedisStateStore) Put(ctx context.Context, token string, state PendingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding oauth state: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+token, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing oauth state: %w", err)
	}
	return nil
}

// TakeIfValid implements StateStore. GETDEL makes read-and-consume a single
// atomic command.
func (s *RedisStateStore) TakeIfValid(ctx context.Context, token string) (*PendingState, error) {
	data, err := s.client.GetDel(ctx, s.keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}
	var state PendingState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding oauth state: %w", err)
	}
	return &state, nil
}

// Sweep implements StateStore. Redis expires keys natively.
func (s *RedisStateStore) Sweep(_ context.Context) error {
	return nil
}

// Close implements StateStore, closing the client only if the store
// created it.
func (s *RedisStateStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
