// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api is the reference HTTP surface over a manager: a read-only
// connector catalog plus the manager's own webhook/callback boundary.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/igniterhq/connectors/pkg/errors"
	"github.com/igniterhq/connectors/pkg/manager"
)

// ConnectorRoutes serves the connector catalog.
type ConnectorRoutes struct {
	manager *manager.Manager
}

// Router assembles the API: the catalog under /connectors plus the
// manager handler for webhook deliveries and OAuth callbacks.
func Router(m *manager.Manager) http.Handler {
	routes := ConnectorRoutes{manager: m}

	r := chi.NewRouter()
	r.Get("/connectors", routes.listConnectors)
	r.Get("/connectors/{key}", routes.getConnector)

	// Wire-shaped paths (webhooks, callbacks) go to the manager.
	r.Handle("/connectors/{key}/webhook/{secret}", m)
	r.Handle("/connectors/{key}/oauth/callback", m)

	return r
}

// listConnectors
//
//	@Summary	List registered connectors
//	@Produce	json
//	@Param		name			query	string	false	"Filter by key substring"
//	@Param		withConnections	query	bool	false	"Include connection counts"
//	@Success	200	{object}	listConnectorsResponse
//	@Router		/connectors [get]
func (c *ConnectorRoutes) listConnectors(w http.ResponseWriter, r *http.Request) {
	opts := manager.ListOptions{
		Name:            r.URL.Query().Get("name"),
		WithConnections: r.URL.Query().Get("withConnections") == "true",
	}
	infos, err := c.manager.List(r.Context(), opts)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listConnectorsResponse{Connectors: infos})
}

// getConnector
//
//	@Summary	Get one connector
//	@Produce	json
//	@Param		key	path	string	true	"Connector key"
//	@Success	200	{object}	manager.ConnectorInfo
//	@Failure	404	{string}	string	"Not Found"
//	@Router		/connectors/{key} [get]
func (c *ConnectorRoutes) getConnector(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, err := c.manager.Get(r.Context(), key, manager.ListOptions{WithConnections: true})
	if err != nil {
		respondError(w, err)
		return
	}
	if info == nil {
		respondError(w, errors.Newf(errors.CodeConnectorNotFound, "unknown connector %q", key))
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// listConnectorsResponse wraps the catalog listing.
type listConnectorsResponse struct {
	Connectors []manager.ConnectorInfo `json:"connectors"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, errors.HTTPStatusOf(err), map[string]any{
		"data":  nil,
		"error": err.Error(),
	})
}
