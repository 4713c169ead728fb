// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package openvasp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/getopenvasp/go-openvasp/directory"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/getopenvasp/go-openvasp/store"
	"github.com/getopenvasp/go-openvasp/transport"
)

// waitFor polls a condition until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held within %v", timeout)
}

// registerIdentity registers a VASP identity in the directory without
// creating a live manager for it.
func registerIdentity(t *testing.T, dir *directory.StaticDirectory, account string, key []byte) {
	t.Helper()

	code, err := protocol.DeriveVaspCode(account)
	if err != nil {
		t.Fatalf("failed to derive vasp code: %v", err)
	}
	dir.Register(&directory.VaspIdentity{
		Code:         code,
		Account:      account,
		HandshakeKey: transport.MockPublicKey(key),
	})
}

// Tests that sending on a session before the counterparty opened the reverse
// channel is refused.
func TestSendBeforeReply(t *testing.T) {
	net := transport.NewMockTransport()
	defer net.Close()

	dir := directory.NewStaticDirectory()
	registerIdentity(t, dir, beneficiaryAccount, beneficiaryKey)

	manager := newTestVasp(t, net, dir, originatorAccount, originatorKey, nil, nil)

	// The beneficiary identity resolves, but nobody is listening, so the
	// session stays stuck awaiting its reply
	sess, err := manager.CreateOriginatorSession(testTransfer(t))
	if err != nil {
		t.Fatalf("failed to create originator session: %v", err)
	}
	if err := sess.SendTransferRequest(); err != ErrNoReplyChannel {
		t.Errorf("error mismatch: have %v, want %v", err, ErrNoReplyChannel)
	}
}

// Tests that terminating a session twice is harmless and that the session
// leaves the registry on the first call.
func TestTerminateIdempotent(t *testing.T) {
	net := transport.NewMockTransport()
	defer net.Close()

	dir := directory.NewStaticDirectory()
	registerIdentity(t, dir, beneficiaryAccount, beneficiaryKey)

	manager := newTestVasp(t, net, dir, originatorAccount, originatorKey, nil, nil)

	sess, err := manager.CreateOriginatorSession(testTransfer(t))
	if err != nil {
		t.Fatalf("failed to create originator session: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := sess.Terminate("cancelled"); err != nil {
			t.Fatalf("termination %d failed: %v", i, err)
		}
	}
	if sess.State() != StateTerminated {
		t.Errorf("state mismatch: have %v, want %v", sess.State(), StateTerminated)
	}
	if manager.Originator(sess.ID()) != nil {
		t.Errorf("terminated session still registered")
	}
	// A terminated session must refuse any further sends
	if err := sess.Send(protocol.NewTermination(sess.ID(), "again")); err != ErrSessionTerminated {
		t.Errorf("error mismatch: have %v, want %v", err, ErrSessionTerminated)
	}
}

// Tests that a torn down session never sees traffic that arrives after the
// teardown, even though the counterparty still holds the channel material.
func TestNoDeliveryAfterTermination(t *testing.T) {
	net := transport.NewMockTransport()
	defer net.Close()

	dir := directory.NewStaticDirectory()

	var delivered int32
	originator := newTestVasp(t, net, dir, originatorAccount, originatorKey, func(msg *protocol.Envelope, sess Session) {
		atomic.AddInt32(&delivered, 1)
	}, nil)
	beneficiary := newTestVasp(t, net, dir, beneficiaryAccount, beneficiaryKey, func(msg *protocol.Envelope, sess Session) {
		if msg.Type() == protocol.TypeSessionRequest {
			sess.(*BeneficiarySession).SendSessionReply()
		}
	}, nil)

	sess, err := originator.CreateOriginatorSession(testTransfer(t))
	if err != nil {
		t.Fatalf("failed to create originator session: %v", err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&delivered) == 1 })
	if sess.State() != StateActive {
		t.Fatalf("state mismatch: have %v, want %v", sess.State(), StateActive)
	}
	remote := beneficiary.Beneficiary(sess.ID())
	if remote == nil {
		t.Fatalf("beneficiary session never appeared")
	}
	// Tear the originator side down locally, then have the counterparty keep
	// sending into the now released channel
	sess.Close()

	if err := remote.SendTransferConfirmation(protocol.Transaction{ID: "0xtxhash"}); err != nil {
		t.Fatalf("counterparty send failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if have := atomic.LoadInt32(&delivered); have != 1 {
		t.Errorf("message delivered to a torn down session: have %d callbacks, want 1", have)
	}
	if msgs := sess.Log(); len(msgs) != 1 {
		t.Errorf("log grew after teardown: have %d entries, want 1", len(msgs))
	}
}

// Tests that persisted sessions survive a manager restart and that corrupt
// records are rejected instead of half restored.
func TestRestoreSession(t *testing.T) {
	net := transport.NewMockTransport()
	defer net.Close()

	dir := directory.NewStaticDirectory()
	registerIdentity(t, dir, originatorAccount, originatorKey)
	registerIdentity(t, dir, beneficiaryAccount, beneficiaryKey)

	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	defer db.Close()

	manager, err := NewSessionManager(ManagerConfig{
		VASP:         protocol.VaspInfo{ID: originatorAccount},
		HandshakeKey: originatorKey,
		Transport:    net,
		Directory:    dir,
		Store:        db,
	})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	sess, err := manager.CreateOriginatorSession(testTransfer(t))
	if err != nil {
		t.Fatalf("failed to create originator session: %v", err)
	}
	id := sess.ID()

	// Suspend the manager; the session must remain in the database
	manager.Close()

	records, err := db.All()
	if err != nil {
		t.Fatalf("failed to enumerate session records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count mismatch: have %d, want 1", len(records))
	}
	// Boot a fresh manager and rehydrate the session
	manager, err = NewSessionManager(ManagerConfig{
		VASP:         protocol.VaspInfo{ID: originatorAccount},
		HandshakeKey: originatorKey,
		Transport:    net,
		Directory:    dir,
		Store:        db,
	})
	if err != nil {
		t.Fatalf("failed to recreate session manager: %v", err)
	}
	defer manager.Close()

	restored, err := manager.RestoreSession(records[0])
	if err != nil {
		t.Fatalf("failed to restore session: %v", err)
	}
	if restored.ID() != id {
		t.Errorf("identifier mismatch: have %s, want %s", restored.ID(), id)
	}
	if restored.State() != StateAwaitingReply {
		t.Errorf("state mismatch: have %v, want %v", restored.State(), StateAwaitingReply)
	}
	if manager.Originator(id) == nil {
		t.Errorf("restored session not registered")
	}
	if info := manager.Originator(id).Transfer(); info == nil || info.Transfer.Amount != "1.25" {
		t.Errorf("restored transfer mismatch: %v", info)
	}
	// Restoring the same record again must collide with the live session
	if _, err := manager.RestoreSession(records[0]); err != ErrDuplicateSession {
		t.Errorf("error mismatch: have %v, want %v", err, ErrDuplicateSession)
	}
	// Records the client cannot interpret must be rejected outright
	bogus := *records[0]
	bogus.ID = "bogus-role-session"
	bogus.Role = "auditor"
	if _, err := manager.RestoreSession(&bogus); err != ErrUnknownRole {
		t.Errorf("error mismatch: have %v, want %v", err, ErrUnknownRole)
	}
	bogus.Role = string(RoleOriginator)
	bogus.State = string(StateTerminated)
	if _, err := manager.RestoreSession(&bogus); err != ErrSessionTerminated {
		t.Errorf("error mismatch: have %v, want %v", err, ErrSessionTerminated)
	}
}
