// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/getopenvasp/go-openvasp/protocol"
)

// API is a tiny Go client for the VASP node REST APIs. The purpose is to
// allow writing integration tests and operator scenarios in Go.
type API struct {
	endpoint string
}

// NewAPI creates a simplistic REST API around a VASP node endpoint.
func NewAPI(endpoint string) *API {
	return &API{
		endpoint: endpoint,
	}
}

func (api *API) Status() (*NodeStatus, error) {
	status := new(NodeStatus)
	if err := api.run("GET", "/status", nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (api *API) Sessions() ([]*SessionStatus, error) {
	var sessions []*SessionStatus
	if err := api.run("GET", "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (api *API) Session(id string) (*SessionStatus, error) {
	session := new(SessionStatus)
	if err := api.run("GET", "/sessions/"+id, nil, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (api *API) TerminateSession(id string) error {
	return api.run("DELETE", "/sessions/"+id, nil, nil)
}

func (api *API) CreateTransfer(info *protocol.TransferInfo) (string, error) {
	var id string
	if err := api.run("POST", "/transfers", info, &id); err != nil {
		return "", err
	}
	return id, nil
}

// run executes a single REST request, serializing the request body and
// parsing the reply into the given sink.
func (api *API) run(method string, path string, request interface{}, reply interface{}) error {
	// If a request body was specified, serialize it
	var body []byte
	if request != nil {
		blob, err := json.Marshal(request)
		if err != nil {
			return err
		}
		body = blob
	}
	// Run the request and ensure it succeeds
	req, err := http.NewRequest(method, api.endpoint+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err = io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("request failed: %d: %s", res.StatusCode, string(body))
	}
	// Request seems to have succeeded, parse any expected reply
	if reply != nil {
		return json.Unmarshal(body, reply)
	}
	return nil
}
