// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os"

	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/oauth"
	"github.com/igniterhq/connectors/pkg/schema"
	"github.com/igniterhq/connectors/pkg/webhook"
)

// demoConnectors is the catalog connectord ships with. Hosts embedding the
// library register their own; these exist so the daemon is usable out of
// the box. The GitHub connector needs client credentials, so it only joins
// the catalog when GITHUB_CLIENT_ID is set.
func demoConnectors() []*connector.Connector {
	defs := []*connector.Connector{slackDefinition()}
	if os.Getenv("GITHUB_CLIENT_ID") != "" {
		defs = append(defs, githubDefinition())
	}
	return defs
}

func slackDefinition() *connector.Connector {
	return &connector.Connector{
		Key: "slack",
		Metadata: map[string]any{
			"name":        "Slack",
			"description": "Post messages and receive channel events",
		},
		ConfigSchema: schema.MustCompile(map[string]any{
			"type":     "object",
			"required": []any{"botToken"},
			"properties": map[string]any{
				"botToken": map[string]any{
					"type":        "string",
					"title":       "Bot Token",
					"description": "xoxb- token from the Slack app settings",
				},
				"defaultChannel": map[string]any{
					"type":  "string",
					"title": "Default Channel",
				},
			},
		}),
		Actions: map[string]connector.Action{
			"send-message": {
				Description: "Post a message to a channel",
				InputSchema: schema.MustCompile(map[string]any{
					"type":     "object",
					"required": []any{"text"},
					"properties": map[string]any{
						"text":    map[string]any{"type": "string"},
						"channel": map[string]any{"type": "string"},
					},
				}),
				Handler: func(_ context.Context, req *connector.ActionRequest) (any, error) {
					channel, _ := req.Input["channel"].(string)
					if channel == "" {
						channel, _ = req.Config["defaultChannel"].(string)
					}
					if channel == "" {
						return nil, fmt.Errorf("no channel given and no default configured")
					}
					// The demo daemon echoes instead of calling Slack.
					return map[string]any{
						"ok":      true,
						"channel": channel,
						"text":    req.Input["text"],
					}, nil
				},
			},
		},
		Webhook: &connector.Webhook{
			Schema: schema.MustCompile(map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type": map[string]any{"type": "string"},
				},
			}),
			Verify: webhook.HMACVerifier(webhook.DefaultSignatureHeader,
				"webhook.secret", webhook.DefaultSignaturePrefix),
			Handler: func(_ context.Context, req *connector.WebhookRequest) (any, error) {
				return map[string]any{"received": req.Payload["type"]}, nil
			},
		},
	}
}

func githubDefinition() *connector.Connector {
	return &connector.Connector{
		Key: "github",
		Metadata: map[string]any{
			"name":        "GitHub",
			"description": "Act on repositories for the authorized user",
		},
		OAuth: &oauth.Options{
			ClientID:         os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret:     os.Getenv("GITHUB_CLIENT_SECRET"),
			AuthorizationURL: "https://github.com/login/oauth/authorize",
			TokenURL:         "https://github.com/login/oauth/access_token",
			UserInfoURL:      "https://api.github.com/user",
			Scopes:           []string{"repo", "read:user"},
		},
		Actions: map[string]connector.Action{
			"whoami": {
				Description: "Show the authorized user",
				Handler: func(_ context.Context, req *connector.ActionRequest) (any, error) {
					if req.OAuth == nil || req.OAuth.UserInfo == nil {
						return nil, fmt.Errorf("no user info on this connection")
					}
					return req.OAuth.UserInfo, nil
				},
			},
		},
	}
}
