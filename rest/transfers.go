// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package rest

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	openvasp "github.com/getopenvasp/go-openvasp"
	"github.com/getopenvasp/go-openvasp/directory"
	"github.com/getopenvasp/go-openvasp/protocol"
)

// serveTransfers serves API calls initiating new travel rule negotiations.
func (api *api) serveTransfers(w http.ResponseWriter, r *http.Request, logger log.Logger) {
	if r.Method != "POST" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	logger.Debug("Requesting transfer negotiation")

	info := new(protocol.TransferInfo)
	if err := json.NewDecoder(r.Body).Decode(info); err != nil {
		logger.Error("Provided transfer is invalid", "err", err)
		http.Error(w, "Provided transfer is invalid: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch id, err := api.backend.CreateTransfer(info); err {
	case openvasp.ErrNilTransferInfo:
		logger.Warn("Cannot negotiate empty transfer")
		http.Error(w, "Cannot negotiate empty transfer", http.StatusBadRequest)
	case directory.ErrUnknownVasp:
		logger.Warn("Beneficiary VASP unknown", "vasp", info.Beneficiary.VASP)
		http.Error(w, "Beneficiary VASP unknown", http.StatusForbidden)
	case nil:
		logger.Debug("Transfer negotiation started", "session", id)
		w.Header().Add("Content-Type", "application/json")
		json.NewEncoder(w).Encode(id)
	default:
		logger.Error("Transfer negotiation failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
