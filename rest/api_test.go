// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package rest

import (
	"net/http/httptest"
	"testing"

	openvasp "github.com/getopenvasp/go-openvasp"
	"github.com/getopenvasp/go-openvasp/config"
	"github.com/getopenvasp/go-openvasp/directory"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/getopenvasp/go-openvasp/transport"
)

// newTestNode boots a VASP node on a mock transport and exposes it through
// an in-process HTTP server, returning the Go client pointed at it.
func newTestNode(t *testing.T) *API {
	t.Helper()

	cfg := &config.Config{
		VaspName:            "Test VASP",
		VaspAccount:         "0x6befaf0656b953b188a0ee3bf3db03d07dface61",
		HandshakePrivateKey: "0x0102030405060708010203040506070801020304050607080102030405060708",
		DataDir:             t.TempDir(),
	}
	dir := directory.NewStaticDirectory()
	dir.Register(&directory.VaspIdentity{
		Code:         "12345678",
		Name:         "Peer VASP",
		Account:      "0x0000000000000000000000000000000012345678",
		HandshakeKey: []byte{1, 2, 3},
	})
	backend, err := openvasp.NewCustomBackend(cfg, transport.NewMockTransport(), dir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	server := httptest.NewServer(New(backend))
	t.Cleanup(server.Close)

	return NewAPI(server.URL)
}

// Tests the node status endpoint.
func TestStatusEndpoint(t *testing.T) {
	api := newTestNode(t)

	status, err := api.Status()
	if err != nil {
		t.Fatalf("failed to retrieve node status: %v", err)
	}
	if status.Code != "7dface61" {
		t.Errorf("code mismatch: have %s, want 7dface61", status.Code)
	}
	if status.Name != "Test VASP" {
		t.Errorf("name mismatch: have %s, want Test VASP", status.Name)
	}
	if status.Sessions != 0 {
		t.Errorf("session count mismatch: have %d, want 0", status.Sessions)
	}
}

// Tests creating, listing and terminating a negotiation through the REST
// surface.
func TestTransferLifecycle(t *testing.T) {
	api := newTestNode(t)

	// Transfers towards unknown VASPs must be refused
	if _, err := api.CreateTransfer(&protocol.TransferInfo{
		Beneficiary: protocol.Party{VASP: "00000000"},
	}); err == nil {
		t.Fatalf("transfer towards unknown vasp was accepted")
	}
	// A valid transfer creates a session visible through the API
	id, err := api.CreateTransfer(&protocol.TransferInfo{
		Originator:  protocol.Party{Account: "0x6befaf0656b953b188a0ee3bf3db03d07dface61", VASP: "7dface61"},
		Beneficiary: protocol.Party{Account: "0x0000000000000000000000000000000012345678", VASP: "12345678"},
		Transfer:    protocol.Transfer{AssetType: "ETH", Amount: "1.25"},
	})
	if err != nil {
		t.Fatalf("failed to create transfer: %v", err)
	}
	sessions, err := api.Sessions()
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("session listing mismatch: %v", sessions)
	}
	sess, err := api.Session(id)
	if err != nil {
		t.Fatalf("failed to retrieve session: %v", err)
	}
	if sess.Role != "originator" || sess.State != "awaiting-reply" {
		t.Errorf("session status mismatch: %+v", sess)
	}
	// Terminating the session must drop it from the registry
	if err := api.TerminateSession(id); err != nil {
		t.Fatalf("failed to terminate session: %v", err)
	}
	if _, err := api.Session(id); err == nil {
		t.Fatalf("terminated session still retrievable")
	}
}
