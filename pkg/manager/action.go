// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/schema"
)

// ActionBinding is an action addressed within a tenant bucket, ready to
// call.
type ActionBinding struct {
	m         *Manager
	scope     string
	identity  string
	connector string
	action    string
}

// ActionResult separates handler outcomes from pipeline failures: a
// handler error lands in Error with a nil Go error, so callers branch on
// the result, not on error plumbing.
type ActionResult struct {
	Data  any           `json:"data"`
	Error *errors.Error `json:"error"`
}

// Call runs the dispatch pipeline: resolve, load, decrypt, refresh,
// validate, contextualize, execute. Failures before the handler return Go
// errors; handler failures come back inside the result.
func (b *ActionBinding) Call(ctx context.Context, input map[string]any) (*ActionResult, error) {
	def, err := b.m.connectorByKey(b.connector)
	if err != nil {
		return nil, err
	}
	action, ok := def.Action(b.action)
	if !ok {
		return nil, errors.Newf(errors.CodeActionNotFound,
			"connector %q has no action %q", b.connector, b.action)
	}

	config, oauthData, err := b.loadConfig(ctx, def)
	if err != nil {
		return nil, err
	}

	if action.InputSchema != nil {
		if result := action.InputSchema.Validate(input); !result.OK {
			return nil, errors.Newf(errors.CodeActionInputInvalid,
				"input invalid: %s", schema.JoinIssues(result.Issues))
		}
	}

	var execContext map[string]any
	if def.OnContext != nil {
		execContext, err = def.OnContext(ctx, config)
		if err != nil {
			return nil, errors.FromContext(err)
		}
	}

	b.m.emit(ctx, events.NewActionStarted(b.connector, b.scope, b.identity, b.action))
	start := now()

	data, handlerErr := action.Handler(ctx, &connector.ActionRequest{
		Input:    input,
		Config:   config,
		Context:  execContext,
		OAuth:    oauthData,
		Scope:    b.scope,
		Identity: b.identity,
	})
	elapsed := now().Sub(start)

	if handlerErr == nil && action.OutputSchema != nil {
		if result := action.OutputSchema.Validate(data); !result.OK {
			handlerErr = errors.Newf(errors.CodeActionOutputInvalid,
				"output invalid: %s", schema.JoinIssues(result.Issues))
		}
	}

	if handlerErr != nil {
		handlerErr = errors.FromContext(handlerErr)
		actionErr, ok := errors.As(handlerErr)
		if !ok {
			actionErr = errors.New(errors.CodeActionFailed, handlerErr.Error(), handlerErr)
		}
		b.m.emit(ctx, events.NewActionFailed(b.connector, b.scope, b.identity, b.action,
			elapsed, string(actionErr.Code), actionErr.Message))
		b.m.reportError(ctx, actionErr, b.connector, b.scope, b.identity)
		if errors.IsCancelled(actionErr) {
			return nil, actionErr
		}
		return &ActionResult{Error: actionErr}, nil
	}

	b.m.emit(ctx, events.NewActionCompleted(b.connector, b.scope, b.identity, b.action, elapsed))
	return &ActionResult{Data: data}, nil
}

// loadConfig resolves the decrypted config and OAuth payload for the
// bound tenant bucket. The default scope runs off DefaultConfig with no
// stored connection.
func (b *ActionBinding) loadConfig(ctx context.Context, def *connector.Connector) (map[string]any, *oauth.Data, error) {
	if b.scope == DefaultScope && b.identity == "" {
		if def.DefaultConfig == nil {
			return nil, nil, errors.Newf(errors.CodeConnectorDefaultConfigRequired,
				"connector %q has no default config", b.connector)
		}
		return def.DefaultConfig, nil, nil
	}

	record, err := b.m.adapter.Get(ctx, b.scope, b.identity, b.connector)
	if err != nil {
		return nil, nil, errors.New(errors.CodeDatabaseFailed, "loading connection", err)
	}
	if record == nil || !record.Enabled {
		return nil, nil, errors.Newf(errors.CodeConnectorNotConnected,
			"connector %q is not connected", b.connector)
	}

	config, err := b.m.decryptedConfig(record.Value)
	if err != nil {
		return nil, nil, err
	}

	var oauthData *oauth.Data
	if raw, ok := config["oauth"].(map[string]any); ok {
		oauthData = oauth.DataFromMap(raw)
	}
	if oauthData != nil && oauthData.IsExpired() {
		oauthData, err = b.m.refreshTokens(ctx, b.scope, b.identity, b.connector, oauthData)
		if err != nil {
			return nil, nil, err
		}
		config["oauth"] = oauthData.ToMap()
	}
	return config, oauthData, nil
}
