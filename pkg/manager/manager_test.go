// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/crypto"
	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/events"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/schema"
	"github.com/igniterhq/connectors/pkg/storage/memory"
	"github.com/igniterhq/connectors/pkg/webhook"
)

const testSecret = "unit-test-secret"

// eventRecorder collects bus events for ordering assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func slackConnector() *connector.Connector {
	return &connector.Connector{
		Key:      "slack",
		Metadata: map[string]any{"name": "Slack"},
		ConfigSchema: schema.MustCompile(map[string]any{
			"type":     "object",
			"required": []any{"apiKey"},
			"properties": map[string]any{
				"apiKey":  map[string]any{"type": "string"},
				"channel": map[string]any{"type": "string"},
			},
		}),
		Actions: map[string]connector.Action{
			"send-message": {
				Description: "Post a message to a channel",
				InputSchema: schema.MustCompile(map[string]any{
					"type":     "object",
					"required": []any{"text"},
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
					},
				}),
				Handler: func(_ context.Context, req *connector.ActionRequest) (any, error) {
					return map[string]any{"ok": true, "text": req.Input["text"]}, nil
				},
			},
		},
		Webhook: &connector.Webhook{
			Schema: schema.MustCompile(map[string]any{
				"type":     "object",
				"required": []any{"event"},
				"properties": map[string]any{
					"event": map[string]any{"type": "string"},
				},
			}),
			Verify: func(req *webhook.Request, _ map[string]any) bool {
				return req.Headers.Get("X-Test-Signature") == "valid"
			},
			Handler: func(_ context.Context, req *connector.WebhookRequest) (any, error) {
				return map[string]any{"received": req.Payload["event"]}, nil
			},
		},
	}
}

func hubspotConnector(tokenURL string) *connector.Connector {
	return &connector.Connector{
		Key:      "hubspot",
		Metadata: map[string]any{"name": "HubSpot"},
		OAuth: &oauth.Options{
			ClientID:         "client-1",
			ClientSecret:     "shh",
			AuthorizationURL: "https://provider.example.com/authorize",
			TokenURL:         tokenURL,
			Scopes:           []string{"crm.objects.contacts.read"},
			UsePKCE:          true,
		},
		Actions: map[string]connector.Action{
			"list-contacts": {
				Handler: func(_ context.Context, req *connector.ActionRequest) (any, error) {
					token := ""
					if req.OAuth != nil {
						token = req.OAuth.AccessToken
					}
					return map[string]any{"token": token}, nil
				},
			},
		},
	}
}

func newTestManager(t *testing.T, extra ...Option) (*Manager, *eventRecorder) {
	t.Helper()

	opts := []Option{
		WithAdapter(memory.New()),
		WithEncryptionSecret(testSecret),
		WithBaseURL("https://app.example.com"),
		WithScopes(
			connector.Scope{Key: "organization", Required: true},
			connector.Scope{Key: "user"},
		),
		WithConnectors(slackConnector(), hubspotConnector("https://provider.example.com/token")),
	}
	opts = append(opts, extra...)

	m, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	recorder := &eventRecorder{}
	m.Subscribe(recorder.record)
	return m, recorder
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := New(ctx)
	assert.True(t, errors.IsCode(err, errors.CodeBuildConfigRequired))

	_, err = New(ctx, WithAdapter(memory.New()))
	assert.True(t, errors.IsCode(err, errors.CodeBuildScopesRequired))

	_, err = New(ctx,
		WithAdapter(memory.New()),
		WithScopes(connector.Scope{Key: "organization"}),
	)
	assert.True(t, errors.IsCode(err, errors.CodeBuildConnectorsRequired))

	_, err = New(ctx,
		WithAdapter(memory.New()),
		WithEncryptionSecret(testSecret),
		WithScopes(connector.Scope{Key: "organization"}),
		WithConnectors(slackConnector(), slackConnector()),
	)
	assert.True(t, errors.IsCode(err, errors.CodeConnectorConfigInvalid),
		"duplicate connector keys must be rejected")
}

func TestNewRequiresEncryptionSecret(t *testing.T) {
	// No t.Parallel: the empty-secret path consults IGNITER_SECRET.
	t.Setenv("IGNITER_SECRET", "")

	_, err := New(context.Background(),
		WithAdapter(memory.New()),
		WithScopes(connector.Scope{Key: "organization"}),
		WithConnectors(slackConnector()),
	)
	assert.True(t, errors.IsCode(err, errors.CodeEncryptionSecretRequired))
}

func TestListAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestManager(t)

	infos, err := m.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "hubspot", infos[0].Key)
	assert.Equal(t, "oauth", infos[0].Type)
	assert.Equal(t, "slack", infos[1].Key)
	assert.Equal(t, "custom", infos[1].Type)
	assert.Nil(t, infos[0].Connections)

	infos, err = m.List(ctx, ListOptions{Name: "slack"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "slack", infos[0].Key)

	infos, err = m.List(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "slack", infos[0].Key)

	info, err := m.Get(ctx, "slack", ListOptions{WithConnections: true})
	require.NoError(t, err)
	require.NotNil(t, info)
	require.NotNil(t, info.Connections)
	assert.Equal(t, 0, *info.Connections)
	assert.NotEmpty(t, info.Fields)

	info, err = m.Get(ctx, "missing", ListOptions{})
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestScopeDerivation(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	_, err := m.Scope("workspace")
	assert.True(t, errors.IsCode(err, errors.CodeScopeInvalid))

	_, err = m.Scope("organization")
	assert.True(t, errors.IsCode(err, errors.CodeScopeIdentifierRequired))

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)
	assert.Equal(t, "organization", view.ScopeKey())
	assert.Equal(t, "org_1", view.Identity())

	// Optional scopes allow an empty identity.
	_, err = m.Scope("user")
	assert.NoError(t, err)
}

func TestInstall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, recorder := newTestManager(t,
		WithEncryptedFields("apiKey", "oauth.accessToken", "oauth.refreshToken"))

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	// Schema violation.
	_, err = view.Install(ctx, "slack", map[string]any{})
	assert.True(t, errors.IsCode(err, errors.CodeConnectorConfigInvalid))

	result, err := view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Nil(t, result.OAuth)

	// The sensitive field is ciphertext at rest; the webhook secret is not.
	stored := result.Record.Value
	assert.True(t, crypto.IsEncrypted(stored["apiKey"].(string)))
	wh := stored["webhook"].(map[string]any)
	assert.Len(t, wh["secret"], 32)
	assert.Contains(t, result.WebhookURL, "https://app.example.com/connectors/slack/webhook/")

	assert.Equal(t, []events.Type{events.TypeConnectorConnected}, recorder.types())

	// The scoped read undoes the policy.
	rec, err := view.Connection(ctx, "slack")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-1", rec.Value["apiKey"])

	info, err := m.Get(ctx, "slack", ListOptions{WithConnections: true})
	require.NoError(t, err)
	assert.Equal(t, 1, *info.Connections)
}

func TestInstallOnValidateHook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	def := slackConnector()
	def.Webhook = nil
	def.OnValidate = func(_ context.Context, config map[string]any) error {
		if config["apiKey"] == "bad" {
			return assert.AnError
		}
		return nil
	}

	m, err := New(ctx,
		WithAdapter(memory.New()),
		WithEncryptionSecret(testSecret),
		WithScopes(connector.Scope{Key: "organization", Required: true}),
		WithConnectors(def),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "bad"})
	assert.True(t, errors.IsCode(err, errors.CodeConnectorConfigInvalid),
		"OnValidate failures surface as config-invalid")

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "good"})
	assert.NoError(t, err)
}

func TestInstallAlreadyConnected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestManager(t)

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-1"})
	require.NoError(t, err)

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-2"})
	assert.True(t, errors.IsCode(err, errors.CodeConnectorAlreadyConnected))
}

func TestUpdateConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, recorder := newTestManager(t,
		WithEncryptedFields("apiKey", "oauth.accessToken", "oauth.refreshToken"))

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	_, err = view.Update(ctx, "slack", map[string]any{"apiKey": "xoxb-2"})
	assert.True(t, errors.IsCode(err, errors.CodeConnectorNotConnected))

	result, err := view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-1"})
	require.NoError(t, err)
	originalSecret := result.Record.Value["webhook"].(map[string]any)["secret"]

	_, err = view.Update(ctx, "slack", map[string]any{})
	assert.True(t, errors.IsCode(err, errors.CodeConnectorConfigInvalid))

	updated, err := view.Update(ctx, "slack", map[string]any{"apiKey": "xoxb-2"})
	require.NoError(t, err)

	// New value encrypted at rest; the webhook section survives untouched.
	assert.True(t, crypto.IsEncrypted(updated.Value["apiKey"].(string)))
	assert.Equal(t, originalSecret, updated.Value["webhook"].(map[string]any)["secret"])

	rec, err := view.Connection(ctx, "slack")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-2", rec.Value["apiKey"])

	assert.Equal(t, []events.Type{
		events.TypeConnectorConnected,
		events.TypeConnectorUpdated,
	}, recorder.types())
}

func TestInstallOAuthConnectorRedirects(t *testing.T) {
	t.Parallel()
	m, recorder := newTestManager(t)

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	result, err := view.Install(context.Background(), "hubspot", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Record, "OAuth installs write no record before the callback")
	require.NotNil(t, result.OAuth)
	assert.Contains(t, result.OAuth.URL, "https://provider.example.com/authorize?")
	assert.Equal(t, "igniter_oauth_hubspot", result.OAuth.Cookie.Name)

	assert.Equal(t, []events.Type{events.TypeOAuthStarted}, recorder.types())
}

func TestDisconnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hookCalls []string
	m, recorder := newTestManager(t, WithOnDisconnect(
		func(_ context.Context, scope, identity, key string) error {
			hookCalls = append(hookCalls, scope+"/"+identity+"/"+key)
			return nil
		}))

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	err = view.Disconnect(ctx, "slack")
	assert.True(t, errors.IsCode(err, errors.CodeConnectorNotConnected))

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-1"})
	require.NoError(t, err)

	require.NoError(t, view.Disconnect(ctx, "slack"))
	assert.Equal(t, events.TypeConnectorDisconnected, recorder.last().Type)
	assert.Equal(t, []string{"organization/org_1/slack"}, hookCalls)

	rec, err := view.Connection(ctx, "slack")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestToggle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, recorder := newTestManager(t)

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)

	_, err = view.Toggle(ctx, "slack", nil)
	assert.True(t, errors.IsCode(err, errors.CodeConnectorNotConnected))

	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "xoxb-1"})
	require.NoError(t, err)

	// nil flips.
	rec, err := view.Toggle(ctx, "slack", nil)
	require.NoError(t, err)
	assert.False(t, rec.Enabled)
	assert.Equal(t, events.TypeConnectorDisabled, recorder.last().Type)

	// Explicit set.
	enabled := true
	rec, err = view.Toggle(ctx, "slack", &enabled)
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.Equal(t, events.TypeConnectorEnabled, recorder.last().Type)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestManager(t)

	var count int
	unsubscribe := m.Subscribe(func(_ context.Context, _ events.Event) error {
		count++
		return nil
	})

	view, err := m.Scope("organization", "org_1")
	require.NoError(t, err)
	_, err = view.Install(ctx, "slack", map[string]any{"apiKey": "k"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unsubscribe()
	require.NoError(t, view.Disconnect(ctx, "slack"))
	assert.Equal(t, 1, count, "unsubscribed subscribers see no further events")
}
