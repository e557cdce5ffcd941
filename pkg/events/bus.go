// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/igniterhq/connectors/pkg/telemetry"
)

// Subscriber receives every event published on the bus. Errors are logged
// and swallowed; a panicking or failing subscriber never affects the emitter
// or later subscribers.
type Subscriber func(ctx context.Context, event Event) error

// Bus fans events out to subscribers and the telemetry sink. Subscribers run
// serially per emit, in registration order. Subscribe and Unsubscribe are
// safe to call concurrently with Emit.
type Bus struct {
	mu   sync.RWMutex
	subs []registration
	next int

	sink telemetry.Sink
	log  *slog.Logger
}

type registration struct {
	id int
	fn Subscriber
}

// NewBus creates a Bus emitting into sink. A nil sink is replaced with a
// no-op one.
func NewBus(sink telemetry.Sink, log *slog.Logger) *Bus {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Bus{sink: sink, log: log}
}

// Subscribe registers fn and returns a function that removes it again.
func (b *Bus) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, registration{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, reg := range b.subs {
			if reg.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes event to every subscriber, then to the telemetry sink.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]registration, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, reg := range subs {
		b.invoke(ctx, reg.fn, event)
	}

	b.sink.Emit(ctx, event.TelemetryName(), telemetry.EmitOptions{
		Attributes: event.Attributes(),
		Level:      event.Level(),
	})
}

// invoke runs one subscriber with fault isolation.
func (b *Bus) invoke(ctx context.Context, fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked",
				"event", string(event.Type),
				"panic", r,
			)
		}
	}()
	if err := fn(ctx, event); err != nil {
		b.log.Warn("event subscriber failed",
			"event", string(event.Type),
			"error", err,
		)
	}
}
