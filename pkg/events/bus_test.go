// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igniterhq/connectors/pkg/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureSink records every emission for assertions.
type captureSink struct {
	mu    sync.Mutex
	names []string
	opts  []telemetry.EmitOptions
}

func (s *captureSink) Emit(_ context.Context, name string, opts telemetry.EmitOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.opts = append(s.opts, opts)
}

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	bus := NewBus(sink, discardLogger())

	var got []Type
	bus.Subscribe(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})

	bus.Emit(context.Background(), NewConnectorEvent(TypeConnectorConnected, "slack", "organization", "org_1"))
	bus.Emit(context.Background(), NewActionStarted("slack", "organization", "org_1", "post"))

	assert.Equal(t, []Type{TypeConnectorConnected, TypeActionStarted}, got)
	require.Equal(t, []string{
		"igniter.connectors.connector.connected",
		"igniter.connectors.action.started",
	}, sink.names)
	assert.Equal(t, "slack", sink.opts[0].Attributes["connector"])
	assert.Equal(t, telemetry.LevelDebug, sink.opts[1].Level)
}

func TestBusSubscriberFaultIsolation(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil, discardLogger())

	var order []string
	bus.Subscribe(func(context.Context, Event) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	bus.Subscribe(func(context.Context, Event) error {
		order = append(order, "second")
		panic("boom")
	})
	bus.Subscribe(func(context.Context, Event) error {
		order = append(order, "third")
		return nil
	})

	// Must not panic, and every subscriber must still run.
	bus.Emit(context.Background(), NewConnectorEvent(TypeConnectorConnected, "slack", "organization", "org_1"))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil, discardLogger())

	calls := 0
	unsubscribe := bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})

	bus.Emit(context.Background(), NewConnectorEvent(TypeConnectorConnected, "slack", "organization", "org_1"))
	unsubscribe()
	bus.Emit(context.Background(), NewConnectorEvent(TypeConnectorDisconnected, "slack", "organization", "org_1"))

	assert.Equal(t, 1, calls)
}

func TestBusConcurrentSubscribeEmit(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(func(context.Context, Event) error { return nil })
			defer unsub()
		}()
		go func() {
			defer wg.Done()
			bus.Emit(context.Background(), NewActionStarted("slack", "organization", "org_1", "post"))
		}()
	}
	wg.Wait()
}

func TestEventAttributes(t *testing.T) {
	t.Parallel()

	e := NewActionFailed("slack", "organization", "org_1", "post", 150*time.Millisecond, "ACTION_FAILED", "boom")
	attrs := e.Attributes()
	assert.Equal(t, "slack", attrs["connector"])
	assert.Equal(t, "post", attrs["action"])
	assert.Equal(t, int64(150), attrs["durationMs"])
	assert.Equal(t, "ACTION_FAILED", attrs["errorCode"])
	assert.Equal(t, "boom", attrs["errorMessage"])
	assert.Equal(t, telemetry.LevelError, e.Level())

	received := NewWebhookReceived("stripe", "organization", "org_1", "POST", "/connectors/stripe/webhook/sec", true)
	attrs = received.Attributes()
	assert.Equal(t, "POST", attrs["method"])
	assert.Equal(t, true, attrs["verified"])
	_, hasDuration := attrs["durationMs"]
	assert.False(t, hasDuration, "received events carry no duration")

	started := NewActionStarted("slack", "organization", "org_1", "post")
	_, hasDuration = started.Attributes()["durationMs"]
	assert.False(t, hasDuration)
}
