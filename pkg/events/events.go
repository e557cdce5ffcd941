// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events defines the connector lifecycle event union and the
// in-process bus that fans events out to subscribers and the telemetry sink.
package events

import (
	"time"

	"github.com/igniterhq/connectors/pkg/telemetry"
)

// Type tags an event variant.
type Type string

// Event types
const (
	// TypeConnectorConnected is emitted after a connection is installed
	TypeConnectorConnected Type = "connector.connected"

	// TypeConnectorDisconnected is emitted after a connection is removed
	TypeConnectorDisconnected Type = "connector.disconnected"

	// TypeConnectorEnabled is emitted after a connection is toggled on
	TypeConnectorEnabled Type = "connector.enabled"

	// TypeConnectorDisabled is emitted after a connection is toggled off
	TypeConnectorDisabled Type = "connector.disabled"

	// TypeConnectorUpdated is emitted after a connection's config is updated
	TypeConnectorUpdated Type = "connector.updated"

	// TypeOAuthStarted is emitted when an authorization redirect is issued
	TypeOAuthStarted Type = "oauth.started"

	// TypeOAuthCompleted is emitted after a successful code exchange
	TypeOAuthCompleted Type = "oauth.completed"

	// TypeOAuthRefreshed is emitted after a successful token refresh
	TypeOAuthRefreshed Type = "oauth.refreshed"

	// TypeOAuthFailed is emitted when any OAuth leg fails
	TypeOAuthFailed Type = "oauth.failed"

	// TypeActionStarted is emitted before an action handler runs
	TypeActionStarted Type = "action.started"

	// TypeActionCompleted is emitted after an action handler returns
	TypeActionCompleted Type = "action.completed"

	// TypeActionFailed is emitted after an action handler fails
	TypeActionFailed Type = "action.failed"

	// TypeWebhookReceived is emitted after a delivery passes verification
	TypeWebhookReceived Type = "webhook.received"

	// TypeWebhookProcessed is emitted after the webhook handler returns
	TypeWebhookProcessed Type = "webhook.processed"

	// TypeWebhookFailed is emitted after a delivery fails
	TypeWebhookFailed Type = "webhook.failed"

	// TypeErrorOccurred is emitted for failures outside a specific pipeline
	TypeErrorOccurred Type = "error.occurred"
)

// telemetryPrefix is prepended to the event type to form the sink name.
const telemetryPrefix = "igniter.connectors."

// Event is the lifecycle event union. Type selects the variant; the base
// attributes are always set and the specialization fields are populated per
// variant.
type Event struct {
	// Type tags the variant
	Type Type

	// Connector is the connector key
	Connector string

	// Scope is the tenant bucket kind ("organization", "default", ...)
	Scope string

	// Identity is the tenant bucket id, possibly empty
	Identity string

	// Timestamp is when the event was constructed
	Timestamp time.Time

	// Action is the action name (action.* variants)
	Action string

	// DurationMS is the elapsed operation time (completed/failed/processed)
	DurationMS int64

	// ErrorCode is the stable error code (failed variants)
	ErrorCode string

	// ErrorMessage is the error message (failed variants)
	ErrorMessage string

	// Method is the HTTP method (webhook.received)
	Method string

	// Path is the request path (webhook.received)
	Path string

	// Verified reports whether a Verify function ran (webhook.received)
	Verified *bool

	// Operation names the failing operation (error.occurred)
	Operation string
}

// base constructs the shared part of every event.
func base(t Type, connector, scope, identity string) Event {
	return Event{
		Type:      t,
		Connector: connector,
		Scope:     scope,
		Identity:  identity,
		Timestamp: time.Now().UTC(),
	}
}

// NewConnectorEvent constructs one of the connector.* variants.
func NewConnectorEvent(t Type, connector, scope, identity string) Event {
	return base(t, connector, scope, identity)
}

// NewOAuthStarted constructs an oauth.started event.
func NewOAuthStarted(connector, scope, identity string) Event {
	return base(TypeOAuthStarted, connector, scope, identity)
}

// NewOAuthCompleted constructs an oauth.completed event.
func NewOAuthCompleted(connector, scope, identity string) Event {
	return base(TypeOAuthCompleted, connector, scope, identity)
}

// NewOAuthRefreshed constructs an oauth.refreshed event.
func NewOAuthRefreshed(connector, scope, identity string) Event {
	return base(TypeOAuthRefreshed, connector, scope, identity)
}

// NewOAuthFailed constructs an oauth.failed event.
func NewOAuthFailed(connector, scope, identity, errorCode, errorMessage string) Event {
	e := base(TypeOAuthFailed, connector, scope, identity)
	e.ErrorCode = errorCode
	e.ErrorMessage = errorMessage
	return e
}

// NewActionStarted constructs an action.started event.
func NewActionStarted(connector, scope, identity, action string) Event {
	e := base(TypeActionStarted, connector, scope, identity)
	e.Action = action
	return e
}

// NewActionCompleted constructs an action.completed event.
func NewActionCompleted(connector, scope, identity, action string, duration time.Duration) Event {
	e := base(TypeActionCompleted, connector, scope, identity)
	e.Action = action
	e.DurationMS = duration.Milliseconds()
	return e
}

// NewActionFailed constructs an action.failed event.
func NewActionFailed(connector, scope, identity, action string, duration time.Duration, errorCode, errorMessage string) Event {
	e := base(TypeActionFailed, connector, scope, identity)
	e.Action = action
	e.DurationMS = duration.Milliseconds()
	e.ErrorCode = errorCode
	e.ErrorMessage = errorMessage
	return e
}

// NewWebhookReceived constructs a webhook.received event.
func NewWebhookReceived(connector, scope, identity, method, path string, verified bool) Event {
	e := base(TypeWebhookReceived, connector, scope, identity)
	e.Method = method
	e.Path = path
	e.Verified = &verified
	return e
}

// NewWebhookProcessed constructs a webhook.processed event.
func NewWebhookProcessed(connector, scope, identity string, duration time.Duration) Event {
	e := base(TypeWebhookProcessed, connector, scope, identity)
	e.DurationMS = duration.Milliseconds()
	return e
}

// NewWebhookFailed constructs a webhook.failed event.
func NewWebhookFailed(connector, scope, identity string, duration time.Duration, errorCode, errorMessage string) Event {
	e := base(TypeWebhookFailed, connector, scope, identity)
	e.DurationMS = duration.Milliseconds()
	e.ErrorCode = errorCode
	e.ErrorMessage = errorMessage
	return e
}

// NewErrorOccurred constructs an error.occurred event.
func NewErrorOccurred(connector, scope, identity, operation, errorCode, errorMessage string) Event {
	e := base(TypeErrorOccurred, connector, scope, identity)
	e.Operation = operation
	e.ErrorCode = errorCode
	e.ErrorMessage = errorMessage
	return e
}

// TelemetryName returns the sink-facing event name.
func (e Event) TelemetryName() string {
	return telemetryPrefix + string(e.Type)
}

// Level maps the variant onto a telemetry level: failures are errors,
// started/received are debug, the rest info.
func (e Event) Level() string {
	switch e.Type {
	case TypeOAuthFailed, TypeActionFailed, TypeWebhookFailed, TypeErrorOccurred:
		return telemetry.LevelError
	case TypeActionStarted, TypeWebhookReceived:
		return telemetry.LevelDebug
	default:
		return telemetry.LevelInfo
	}
}

// Attributes renders the event for the telemetry sink. Only the fields the
// variant populates appear.
func (e Event) Attributes() map[string]any {
	attrs := map[string]any{
		"connector": e.Connector,
		"scope":     e.Scope,
		"identity":  e.Identity,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Action != "" {
		attrs["action"] = e.Action
	}
	switch e.Type {
	case TypeActionCompleted, TypeActionFailed, TypeWebhookProcessed, TypeWebhookFailed:
		attrs["durationMs"] = e.DurationMS
	}
	if e.ErrorCode != "" {
		attrs["errorCode"] = e.ErrorCode
	}
	if e.ErrorMessage != "" {
		attrs["errorMessage"] = e.ErrorMessage
	}
	if e.Method != "" {
		attrs["method"] = e.Method
	}
	if e.Path != "" {
		attrs["path"] = e.Path
	}
	if e.Verified != nil {
		attrs["verified"] = *e.Verified
	}
	if e.Operation != "" {
		attrs["operation"] = e.Operation
	}
	return attrs
}
