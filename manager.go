// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package openvasp

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/getopenvasp/go-openvasp/directory"
	"github.com/getopenvasp/go-openvasp/params"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/getopenvasp/go-openvasp/store"
	"github.com/getopenvasp/go-openvasp/transport"
	"github.com/google/uuid"
)

// ManagerConfig can be used to fine tune the initial setup of a session
// manager.
type ManagerConfig struct {
	VASP         protocol.VaspInfo   // Identity of the owning VASP
	HandshakeKey []byte              // Private key of the VASP's public handshake topic
	Transport    transport.Transport // Pub/sub network carrying the messages
	Directory    directory.Directory // Lookup service for counterparty VASPs
	Store        *store.Store        // Optional persistence for session states

	MessageHandler MessageHandler // Default message callback for new sessions
	ErrorHandler   ErrorHandler   // Default error callback for new sessions

	Logger log.Logger // Logger to allow injecting pre-existing context
}

// SessionManager is the registry of live travel rule negotiations. It owns
// the two role maps exclusively, reacts to inbound session requests on the
// VASP's public handshake topic and couples session lifetimes to transport
// subscriptions: a session's topic is subscribed before the session becomes
// reachable and released only after it left the registry.
type SessionManager struct {
	vasp protocol.VaspInfo
	code protocol.VaspCode

	transport transport.Transport
	directory directory.Directory
	database  *store.Store

	msgHandler MessageHandler // Default callback, snapshotted into new sessions
	errHandler ErrorHandler   // Default callback, snapshotted into new sessions

	originators   map[string]*OriginatorSession
	beneficiaries map[string]*BeneficiarySession
	changed       chan struct{} // Closed and replaced on every registry mutation

	sub    transport.Subscription // Listener on the VASP's handshake topic
	logger log.Logger
	lock   sync.Mutex
}

// NewSessionManager creates a session registry for a VASP and subscribes it
// to the VASP's public handshake topic.
func NewSessionManager(config ManagerConfig) (*SessionManager, error) {
	code, err := config.VASP.Code()
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Root()
	}
	m := &SessionManager{
		vasp:          config.VASP,
		code:          code,
		transport:     config.Transport,
		directory:     config.Directory,
		database:      config.Store,
		msgHandler:    config.MessageHandler,
		errHandler:    config.ErrorHandler,
		originators:   make(map[string]*OriginatorSession),
		beneficiaries: make(map[string]*BeneficiarySession),
		changed:       make(chan struct{}),
		logger:        logger.New("vasp", code),
	}
	// The handshake topic only ever carries session requests, encrypted with
	// the VASP's long lived key pair
	sub, err := config.Transport.Subscribe(code.Topic(), transport.ModeAsymmetric, config.HandshakeKey, m)
	if err != nil {
		return nil, err
	}
	m.sub = sub
	m.logger.Info("Session manager listening", "topic", code.Topic())

	return m, nil
}

// Code returns the VASP code the manager is operating for.
func (m *SessionManager) Code() protocol.VaspCode {
	return m.code
}

// SetMessageHandler replaces the default message callback. Only sessions
// created afterwards observe the change; live sessions keep their snapshot
// unless their own callback was explicitly unset.
func (m *SessionManager) SetMessageHandler(handler MessageHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.msgHandler = handler
}

// SetErrorHandler replaces the default error callback.
func (m *SessionManager) SetErrorHandler(handler ErrorHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.errHandler = handler
}

// messageHandler returns the current default message callback.
func (m *SessionManager) messageHandler() MessageHandler {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.msgHandler
}

// errorHandler returns the current default error callback.
func (m *SessionManager) errorHandler() ErrorHandler {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.errHandler
}

// CreateOriginatorSession opens a new negotiation towards the beneficiary
// VASP named in the transfer: it generates the session identity and channel
// secret, subscribes the session's inbound topic, registers the session and
// posts the handshake request to the counterparty's public topic.
func (m *SessionManager) CreateOriginatorSession(info *protocol.TransferInfo) (*OriginatorSession, error) {
	if info == nil {
		return nil, ErrNilTransferInfo
	}
	// Resolve the counterparty before creating anything
	ctx, cancel := context.WithTimeout(context.Background(), params.DirectoryTimeout)
	defer cancel()

	peer, err := m.directory.Lookup(ctx, info.Beneficiary.VASP)
	if err != nil {
		return nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()

	sess := &OriginatorSession{
		session: session{
			manager: m,
			logger:  m.logger.New("session", id),
			id:      id,
			role:    RoleOriginator,
			peer:    peer.Code,
			topic:   protocol.OriginatorTopic(id),
			secret:  secret,
			state:   StateCreated,
		},
		info: info,
	}
	sess.owner = sess

	m.lock.Lock()
	sess.msgHandler, sess.errHandler = m.msgHandler, m.errHandler
	m.lock.Unlock()

	// Subscribe before the session becomes reachable so no reply can be lost
	sub, err := m.transport.Subscribe(sess.topic, transport.ModeSymmetric, secret, sess)
	if err != nil {
		return nil, err
	}
	sess.sub = sub

	m.lock.Lock()
	if m.originators[id] != nil || m.beneficiaries[id] != nil {
		m.lock.Unlock()
		sub.Unsubscribe()
		return nil, ErrDuplicateSession
	}
	m.originators[id] = sess
	m.bump()
	m.lock.Unlock()

	// Fire the handshake request at the counterparty's public topic,
	// advertising this side's inbound channel
	request := protocol.NewSessionRequest(id, protocol.Handshake{Topic: sess.topic, Key: secret}, m.vasp)
	if err := m.transport.Send(peer.Code.Topic(), transport.ModeAsymmetric, peer.HandshakeKey, request); err != nil {
		sess.retire()
		return nil, err
	}
	sess.lock.Lock()
	sess.state = StateAwaitingReply
	sess.lock.Unlock()

	m.persist(sess)
	m.logger.Debug("Originator session created", "session", id, "peer", peer.Code)

	return sess, nil
}

// OnMessage implements the transport.Listener interface for the VASP's
// public handshake topic. Only session requests are processed at the level
// of the VASP instance; anything else on this topic is ignored.
func (m *SessionManager) OnMessage(msg *protocol.Envelope) {
	if msg.Type() != protocol.TypeSessionRequest || msg.SessionRequest == nil {
		m.logger.Trace("Ignoring non-handshake message", "type", msg.Type())
		return
	}
	sess, err := m.newBeneficiarySession(msg)
	if err != nil {
		m.logger.Warn("Failed to create beneficiary session", "session", msg.SessionID(), "err", err)
		if handler := m.errorHandler(); handler != nil {
			handler(err, nil)
		}
		return
	}
	if handler := m.messageHandler(); handler != nil {
		handler(msg, sess)
	}
}

// OnError implements the transport.Listener interface for the VASP's public
// handshake topic. Failures at this level are not attributable to a specific
// negotiation, so the error callback receives a nil session.
func (m *SessionManager) OnError(err error) {
	m.logger.Warn("Handshake topic failure", "err", err)
	if handler := m.errorHandler(); handler != nil {
		handler(err, nil)
	}
}

// newBeneficiarySession manufactures and registers a beneficiary session
// from an inbound session request.
func (m *SessionManager) newBeneficiarySession(msg *protocol.Envelope) (*BeneficiarySession, error) {
	var (
		id  = msg.SessionID()
		req = msg.SessionRequest
	)
	if id == "" {
		return nil, errors.New("session request without session id")
	}
	peer, err := req.VASP.Code()
	if err != nil {
		return nil, err
	}
	// Refuse to clobber a live session before doing any work
	m.lock.Lock()
	if m.beneficiaries[id] != nil {
		m.lock.Unlock()
		return nil, ErrDuplicateSession
	}
	msgHandler, errHandler := m.msgHandler, m.errHandler
	m.lock.Unlock()

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	sess := &BeneficiarySession{
		session: session{
			manager:    m,
			logger:     m.logger.New("session", id),
			id:         id,
			role:       RoleBeneficiary,
			peer:       peer,
			topic:      protocol.BeneficiaryTopic(id),
			secret:     secret,
			peerTopic:  req.Handshake.Topic,
			peerSecret: req.Handshake.Key,
			state:      StateEstablished,
			msgHandler: msgHandler,
			errHandler: errHandler,
		},
	}
	sess.owner = sess

	// Subscribe before insertion so no traffic can be lost, then re-check
	// for a concurrent duplicate under the lock
	sub, err := m.transport.Subscribe(sess.topic, transport.ModeSymmetric, secret, sess)
	if err != nil {
		return nil, err
	}
	sess.sub = sub

	m.lock.Lock()
	if m.beneficiaries[id] != nil {
		m.lock.Unlock()
		sub.Unsubscribe()
		return nil, ErrDuplicateSession
	}
	m.beneficiaries[id] = sess
	m.bump()
	m.lock.Unlock()

	// The triggering request is the first entry of the session's log
	sess.record(msg)
	m.persist(sess)
	m.logger.Debug("Beneficiary session created", "session", id, "peer", peer)

	return sess, nil
}

// WaitForBeneficiarySession blocks until a beneficiary session with the
// given identifier is registered or the timeout elapses, returning nil in
// the latter case. A registration racing the wait is never missed.
func (m *SessionManager) WaitForBeneficiarySession(id string, timeout time.Duration) *BeneficiarySession {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.lock.Lock()
		if sess := m.beneficiaries[id]; sess != nil {
			m.lock.Unlock()
			return sess
		}
		changed := m.changed
		m.lock.Unlock()

		select {
		case <-changed:
			// Registry mutated, re-check the predicate
		case <-deadline.C:
			return nil
		}
	}
}

// WaitForNoActiveSessions blocks until both registry maps drain or the
// timeout elapses, reporting whether the registry is empty.
func (m *SessionManager) WaitForNoActiveSessions(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.lock.Lock()
		if len(m.originators) == 0 && len(m.beneficiaries) == 0 {
			m.lock.Unlock()
			return true
		}
		changed := m.changed
		m.lock.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// Originator returns the live originator session with the given identifier,
// or nil if none is registered.
func (m *SessionManager) Originator(id string) *OriginatorSession {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.originators[id]
}

// Beneficiary returns the live beneficiary session with the given
// identifier, or nil if none is registered.
func (m *SessionManager) Beneficiary(id string) *BeneficiarySession {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.beneficiaries[id]
}

// Sessions returns a snapshot of all live sessions of both roles.
func (m *SessionManager) Sessions() []Session {
	m.lock.Lock()
	defer m.lock.Unlock()

	sessions := make([]Session, 0, len(m.originators)+len(m.beneficiaries))
	for _, sess := range m.originators {
		sessions = append(sessions, sess)
	}
	for _, sess := range m.beneficiaries {
		sessions = append(sessions, sess)
	}
	return sessions
}

// RestoreSession rehydrates a previously persisted session by its declared
// role, re-subscribing its inbound topic and registering it. Records with a
// role or state the client does not know are rejected outright, never turned
// into a half initialized session.
func (m *SessionManager) RestoreSession(record *store.SessionRecord) (Session, error) {
	if record == nil || record.ID == "" || len(record.Secret) == 0 {
		return nil, errors.New("incomplete session record")
	}
	state, err := parseState(record.State)
	if err != nil {
		return nil, err
	}
	if state == StateTerminated {
		return nil, ErrSessionTerminated
	}
	switch Role(record.Role) {
	case RoleOriginator:
		sess := &OriginatorSession{session: m.rehydrate(record, state), info: record.Transfer}
		sess.owner = sess
		if err := m.registerRestored(&sess.session, func() { m.originators[record.ID] = sess }); err != nil {
			return nil, err
		}
		return sess, nil

	case RoleBeneficiary:
		sess := &BeneficiarySession{session: m.rehydrate(record, state)}
		sess.owner = sess
		if err := m.registerRestored(&sess.session, func() { m.beneficiaries[record.ID] = sess }); err != nil {
			return nil, err
		}
		return sess, nil
	}
	return nil, ErrUnknownRole
}

// rehydrate rebuilds the shared session state from a persisted record.
func (m *SessionManager) rehydrate(record *store.SessionRecord, state SessionState) session {
	m.lock.Lock()
	msgHandler, errHandler := m.msgHandler, m.errHandler
	m.lock.Unlock()

	return session{
		manager:    m,
		logger:     m.logger.New("session", record.ID),
		id:         record.ID,
		role:       Role(record.Role),
		peer:       record.Peer,
		topic:      record.Topic,
		secret:     record.Secret,
		peerTopic:  record.PeerTopic,
		peerSecret: record.PeerSecret,
		state:      state,
		msgs:       append([]*protocol.Envelope{}, record.Log...),
		msgHandler: msgHandler,
		errHandler: errHandler,
	}
}

// registerRestored subscribes a rehydrated session's topic and inserts it
// into the registry, rejecting identifier collisions with live sessions.
func (m *SessionManager) registerRestored(sess *session, insert func()) error {
	sub, err := m.transport.Subscribe(sess.topic, transport.ModeSymmetric, sess.secret, sess)
	if err != nil {
		return err
	}
	sess.sub = sub

	m.lock.Lock()
	if m.originators[sess.id] != nil || m.beneficiaries[sess.id] != nil {
		m.lock.Unlock()
		sub.Unsubscribe()
		return ErrDuplicateSession
	}
	insert()
	m.bump()
	m.lock.Unlock()

	m.logger.Debug("Session restored", "session", sess.id, "role", sess.role)
	return nil
}

// remove drops a retired session from the registry and releases its topic.
// The unsubscribe happens strictly after the removal so a message can never
// be routed to a session that no longer exists.
func (m *SessionManager) remove(s *session) {
	m.lock.Lock()
	switch s.role {
	case RoleOriginator:
		delete(m.originators, s.id)
	case RoleBeneficiary:
		delete(m.beneficiaries, s.id)
	}
	m.bump()
	m.lock.Unlock()

	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if m.database != nil {
		if err := m.database.Delete(s.id); err != nil {
			m.logger.Warn("Failed to drop session record", "session", s.id, "err", err)
		}
	}
}

// bump wakes every waiter blocked on the registry's state. The caller must
// hold the registry lock.
func (m *SessionManager) bump() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// persist snapshots a session into the database, if one is attached.
func (m *SessionManager) persist(sess Session) {
	if m.database == nil {
		return
	}
	if err := m.database.Save(sess.Record()); err != nil {
		m.logger.Warn("Failed to persist session", "session", sess.ID(), "err", err)
	}
}

// Close detaches the manager from the network: the handshake listener and
// all session topics are dropped and the registry is cleared. Live sessions
// are persisted, not terminated, so they can be restored later.
func (m *SessionManager) Close() error {
	m.lock.Lock()
	sessions := make([]Session, 0, len(m.originators)+len(m.beneficiaries))
	for _, sess := range m.originators {
		sessions = append(sessions, sess)
	}
	for _, sess := range m.beneficiaries {
		sessions = append(sessions, sess)
	}
	m.originators = make(map[string]*OriginatorSession)
	m.beneficiaries = make(map[string]*BeneficiarySession)
	m.bump()
	sub := m.sub
	m.lock.Unlock()

	for _, sess := range sessions {
		m.persist(sess)
	}
	for _, sess := range sessions {
		switch sess := sess.(type) {
		case *OriginatorSession:
			sess.sub.Unsubscribe()
		case *BeneficiarySession:
			sess.sub.Unsubscribe()
		}
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	return nil
}

// newSecret generates a fresh symmetric channel secret.
func newSecret() ([]byte, error) {
	secret := make([]byte, params.SessionSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}
