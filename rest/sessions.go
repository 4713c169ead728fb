// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	openvasp "github.com/getopenvasp/go-openvasp"
)

// SessionStatus is the externally visible summary of one live negotiation.
type SessionStatus struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	State    string `json:"state"`
	Peer     string `json:"peer"`
	Messages int    `json:"messages"`
}

// sessionStatus flattens a live session into its REST representation.
func sessionStatus(sess openvasp.Session) *SessionStatus {
	return &SessionStatus{
		ID:       sess.ID(),
		Role:     string(sess.Role()),
		State:    string(sess.State()),
		Peer:     string(sess.Peer()),
		Messages: len(sess.Log()),
	}
}

// serveSessions serves API calls concerning the live session registry.
func (api *api) serveSessions(w http.ResponseWriter, r *http.Request, logger log.Logger) {
	// Split off an eventual session identifier from the path
	id := strings.TrimPrefix(r.URL.Path, "/sessions")
	id = strings.Trim(id, "/")

	if id == "" {
		if r.Method != "GET" {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		logger.Debug("Requesting session listing")

		sessions := api.backend.Manager().Sessions()
		statuses := make([]*SessionStatus, 0, len(sessions))
		for _, sess := range sessions {
			statuses = append(statuses, sessionStatus(sess))
		}
		w.Header().Add("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
		return
	}
	api.serveSession(w, r, id, logger)
}

// serveSession serves API calls concerning one specific session.
func (api *api) serveSession(w http.ResponseWriter, r *http.Request, id string, logger log.Logger) {
	var sess openvasp.Session
	if originator := api.backend.Manager().Originator(id); originator != nil {
		sess = originator
	} else if beneficiary := api.backend.Manager().Beneficiary(id); beneficiary != nil {
		sess = beneficiary
	}
	if sess == nil {
		logger.Warn("Unknown session requested", "session", id)
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	switch r.Method {
	case "GET":
		logger.Debug("Requesting session status", "session", id)
		w.Header().Add("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionStatus(sess))

	case "DELETE":
		logger.Debug("Requesting session termination", "session", id)
		if err := sess.Terminate("terminated by operator"); err != nil {
			logger.Error("Session termination failed", "session", id, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}
