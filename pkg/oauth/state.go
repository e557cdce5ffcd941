// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a pending authorization may wait for the
// provider callback.
const DefaultStateTTL = 10 * time.Minute

// PendingState is everything remembered between redirecting the user to the
// provider and the callback returning, keyed by the state token.
type PendingState struct {
	Scope        string         `json:"scope"`
	Identity     string         `json:"identity"`
	Connector    string         `json:"connector"`
	CodeVerifier string         `json:"codeVerifier,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	CustomData   map[string]any `json:"customData,omitempty"`
}

// StateStore holds pending OAuth states. Implementations must make
// TakeIfValid atomic: a token is consumed by exactly one caller.
type StateStore interface {
	// Put stores a pending state under its token.
	Put(ctx context.Context, token string, state PendingState) error

	// TakeIfValid atomically removes and returns the state for token.
	// Missing, expired, or already-consumed tokens yield (nil, nil).
	TakeIfValid(ctx context.Context, token string) (*PendingState, error)

	// Sweep drops expired states. Correctness never depends on it;
	// TakeIfValid checks the TTL itself.
	Sweep(ctx context.Context) error

	// Close releases background resources.
	Close() error
}

// MemoryStateStore is the default single-process StateStore. A background
// goroutine sweeps expired entries until Close.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]PendingState
	ttl    time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates a memory store with the given TTL
// (DefaultStateTTL when zero) and starts its sweep loop.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &MemoryStateStore{
		states: make(map[string]PendingState),
		ttl:    ttl,
		done:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Put implements StateStore.
func (s *MemoryStateStore) Put(ctx context.Context, token string, state PendingState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[token] = state
	return nil
}

// TakeIfValid implements StateStore.
func (s *MemoryStateStore) TakeIfValid(ctx context.Context, token string) (*PendingState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[token]
	if !ok {
		return nil, nil
	}
	delete(s.states, token)
	if time.Since(state.CreatedAt) > s.ttl {
		return nil, nil
	}
	return &state, nil
}

// Sweep implements StateStore.
func (s *MemoryStateStore) Sweep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, state := range s.states {
		if time.Since(state.CreatedAt) > s.ttl {
			delete(s.states, token)
		}
	}
	return nil
}

// Close stops the sweep loop. Safe to call more than once.
func (s *MemoryStateStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStateStore) sweepLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_ = s.Sweep(context.Background())
		}
	}
}
