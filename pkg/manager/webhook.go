// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/schema"
	"github.com/igniterhq/connectors/pkg/storage"
	"github.com/igniterhq/connectors/pkg/webhook"
)

// maxWebhookBody bounds inbound delivery payloads.
const maxWebhookBody = 5 << 20

// handleWebhook routes one delivery: secret match, signature check,
// payload validation, handler dispatch, metadata bookkeeping.
func (m *Manager) handleWebhook(w http.ResponseWriter, r *http.Request, connectorKey, secret string) {
	ctx := r.Context()

	def, ok := m.connectors[connectorKey]
	if !ok {
		writeError(w, errors.Newf(errors.CodeConnectorNotFound, "unknown connector %q", connectorKey))
		return
	}
	if def.Webhook == nil {
		writeError(w, errors.Newf(errors.CodeWebhookNotConfigured,
			"connector %q does not accept webhooks", connectorKey))
		return
	}

	record, err := m.adapter.FindByWebhookSecret(ctx, connectorKey, secret)
	if err != nil {
		writeError(w, errors.New(errors.CodeDatabaseFailed, "resolving webhook secret", err))
		return
	}
	if record == nil {
		writeError(w, errors.Newf(errors.CodeWebhookVerificationFailed, "unknown webhook secret"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, errors.New(errors.CodeWebhookValidationFailed, "reading webhook body", err))
		return
	}

	config, err := m.decryptedConfig(record.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	if def.Webhook.Verify != nil {
		verifyReq := &webhook.Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header,
			Body:    body,
		}
		if !def.Webhook.Verify(verifyReq, config) {
			m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultError, "signature")
			writeError(w, errors.Newf(errors.CodeWebhookVerificationFailed,
				"signature verification failed"))
			return
		}
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultError,
				"invalid JSON body")
			writeError(w, errors.New(errors.CodeWebhookValidationFailed,
				"webhook body is not valid JSON", err))
			return
		}
	}
	if def.Webhook.Schema != nil {
		if result := def.Webhook.Schema.Validate(payload); !result.OK {
			issues := schema.JoinIssues(result.Issues)
			m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultError, issues)
			writeError(w, errors.Newf(errors.CodeWebhookValidationFailed,
				"payload invalid: %s", issues))
			return
		}
	}

	var execContext map[string]any
	if def.OnContext != nil {
		execContext, err = def.OnContext(ctx, config)
		if err != nil {
			err = errors.FromContext(err)
			m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultError, err.Error())
			m.reportError(ctx, err, connectorKey, record.Scope, record.Identity)
			writeError(w, err)
			return
		}
	}

	m.emit(ctx, events.NewWebhookReceived(connectorKey, record.Scope, record.Identity,
		r.Method, r.URL.Path, def.Webhook.Verify != nil))

	start := now()
	out, handlerErr := def.Webhook.Handler(ctx, &connector.WebhookRequest{
		Payload:  payload,
		Config:   config,
		Context:  execContext,
		Scope:    record.Scope,
		Identity: record.Identity,
		Headers:  r.Header,
	})
	elapsed := now().Sub(start)

	if handlerErr != nil {
		handlerErr = errors.FromContext(handlerErr)
		whErr, ok := errors.As(handlerErr)
		if !ok {
			whErr = errors.New(errors.CodeActionFailed, handlerErr.Error(), handlerErr)
		}
		m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultError, whErr.Message)
		m.emit(ctx, events.NewWebhookFailed(connectorKey, record.Scope, record.Identity,
			elapsed, string(whErr.Code), whErr.Message))
		m.reportError(ctx, whErr, connectorKey, record.Scope, record.Identity)
		writeError(w, whErr)
		return
	}

	m.recordWebhookOutcome(ctx, connectorKey, secret, storage.WebhookResultSuccess, "")
	m.emit(ctx, events.NewWebhookProcessed(connectorKey, record.Scope, record.Identity, elapsed))
	writeJSON(w, http.StatusOK, out)
}

// recordWebhookOutcome best-effort persists delivery metadata; a metadata
// write failure never changes the delivery response.
func (m *Manager) recordWebhookOutcome(ctx context.Context, provider, secret, result, errMsg string) {
	err := m.adapter.UpdateWebhookMetadata(ctx, provider, secret, storage.WebhookMetadata{
		LastEventAt:     time.Now().UTC(),
		LastEventResult: result,
		Error:           errMsg,
	})
	if err != nil {
		m.log.WarnContext(ctx, "recording webhook metadata failed",
			"connector", provider, "error", err)
	}
}
