// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the sink the event bus emits into, plus the
// OpenTelemetry bootstrap hosts can use instead of wiring exporters by hand.
package telemetry

import (
	"context"
	"log/slog"
)

// Levels attached to emitted telemetry.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// EmitOptions carries the structured payload of one telemetry emission.
type EmitOptions struct {
	// Attributes are the event attributes (connector, scope, durationMs, ...)
	Attributes map[string]any

	// Level is one of debug, info, warn, error
	Level string
}

// Sink receives lifecycle telemetry. Event names follow
// "igniter.connectors.<eventType>". Implementations must be safe for
// concurrent use and must not block longer than they would on an export.
type Sink interface {
	Emit(ctx context.Context, name string, opts EmitOptions)
}

// SlogSink writes telemetry to a slog logger. It is the default sink for
// deployments without a metrics backend.
type SlogSink struct {
	log *slog.Logger
}

var _ Sink = (*SlogSink)(nil)

// NewSlogSink creates a SlogSink over l.
func NewSlogSink(l *slog.Logger) *SlogSink {
	return &SlogSink{log: l}
}

// Emit logs the event at the level it carries.
func (s *SlogSink) Emit(ctx context.Context, name string, opts EmitOptions) {
	args := make([]any, 0, len(opts.Attributes)*2)
	for k, v := range opts.Attributes {
		args = append(args, k, v)
	}

	var level slog.Level
	switch opts.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	s.log.Log(ctx, level, name, args...)
}

// NopSink discards everything. Used when no sink is configured.
type NopSink struct{}

var _ Sink = NopSink{}

// Emit discards the event.
func (NopSink) Emit(context.Context, string, EmitOptions) {}
