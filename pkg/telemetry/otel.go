// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName is the meter name for connector telemetry.
const instrumentationName = "github.com/igniterhq/connectors"

// OTelSink maps connector events onto OpenTelemetry metrics: a counter of
// events by name and level, and a duration histogram fed by events that
// carry a durationMs attribute (action.completed, webhook.processed, ...).
type OTelSink struct {
	eventCounter      metric.Int64Counter
	operationDuration metric.Float64Histogram
}

var _ Sink = (*OTelSink)(nil)

// NewOTelSink creates an OTelSink over the given meter provider.
func NewOTelSink(mp metric.MeterProvider) (*OTelSink, error) {
	meter := mp.Meter(instrumentationName)

	eventCounter, err := meter.Int64Counter(
		"igniter_connectors_events_total",
		metric.WithDescription("Total number of connector lifecycle events"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram(
		"igniter_connectors_operation_duration_seconds",
		metric.WithDescription("Duration of connector actions and webhook deliveries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &OTelSink{
		eventCounter:      eventCounter,
		operationDuration: operationDuration,
	}, nil
}

// Emit records the event on the counter and, when a duration is present, on
// the histogram.
func (s *OTelSink) Emit(ctx context.Context, name string, opts EmitOptions) {
	attrs := []attribute.KeyValue{
		attribute.String("event", name),
		attribute.String("level", opts.Level),
	}
	for _, key := range []string{"connector", "scope", "action", "errorCode"} {
		if v, ok := opts.Attributes[key].(string); ok && v != "" {
			attrs = append(attrs, attribute.String(key, v))
		}
	}

	s.eventCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if ms, ok := durationMillis(opts.Attributes["durationMs"]); ok {
		s.operationDuration.Record(ctx, ms/1000, metric.WithAttributes(attrs...))
	}
}

// durationMillis normalizes the durationMs attribute, which arrives as int64
// from emitters but may round-trip through JSON as float64.
func durationMillis(v any) (float64, bool) {
	switch d := v.(type) {
	case int64:
		return float64(d), true
	case int:
		return float64(d), true
	case float64:
		return d, true
	default:
		return 0, false
	}
}
