// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package rest implements the RESTful operator API of a VASP node.
package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	openvasp "github.com/getopenvasp/go-openvasp"
)

// New creates a REST API interface in front of a VASP node backend.
func New(backend *openvasp.Backend) http.Handler {
	return &api{
		backend: backend,
	}
}

// api is a REST wrapper on top of the VASP node backend that translates the
// Go APIs into REST for operator tooling and integration tests.
type api struct {
	backend *openvasp.Backend
}

// ServeHTTP implements http.Handler, dispatching API calls by path.
func (api *api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.New("method", r.Method, "path", r.URL.Path)

	switch {
	case r.URL.Path == "/status":
		api.serveStatus(w, r, logger)
	case strings.HasPrefix(r.URL.Path, "/sessions"):
		api.serveSessions(w, r, logger)
	case r.URL.Path == "/transfers":
		api.serveTransfers(w, r, logger)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

// NodeStatus is a summary of the node's identity and live negotiations.
type NodeStatus struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Sessions int    `json:"sessions"`
}

// serveStatus serves API calls concerning the node's own state.
func (api *api) serveStatus(w http.ResponseWriter, r *http.Request, logger log.Logger) {
	if r.Method != "GET" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	logger.Debug("Requesting node status")

	status := &NodeStatus{
		Code:     string(api.backend.Manager().Code()),
		Name:     api.backend.Name(),
		Sessions: len(api.backend.Manager().Sessions()),
	}
	w.Header().Add("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
