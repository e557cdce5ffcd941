// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"encoding/json"
	"net/http"

	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/urls"
)

// ServeHTTP is the manager's single HTTP boundary: it routes webhook
// deliveries and OAuth callbacks and rejects everything else.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.Handle(w, r)
}

// Handle is ServeHTTP under its explicit name, for hosts that mount the
// manager inside their own router.
func (m *Manager) Handle(w http.ResponseWriter, r *http.Request) {
	if ref := urls.ParseWebhookPath(r.URL.Path); ref != nil {
		m.handleWebhook(w, r, ref.Connector, ref.Secret)
		return
	}
	if ref := urls.ParseCallbackPath(r.URL.Path); ref != nil {
		m.handleOAuthCallback(w, r, ref.Connector)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"data":  nil,
		"error": "Invalid connector URL",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatusOf(err), map[string]any{
		"data":  nil,
		"error": err.Error(),
	})
}
