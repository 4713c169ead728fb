// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package openvasp

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/getopenvasp/go-openvasp/store"
	"github.com/getopenvasp/go-openvasp/transport"
)

// Session is one travel rule negotiation between an originator and a
// beneficiary VASP, seen from one side. The two concrete roles are
// OriginatorSession and BeneficiarySession.
type Session interface {
	// ID returns the unique identifier shared by both sides of the
	// negotiation.
	ID() string

	// Role returns which side of the negotiation this session plays.
	Role() Role

	// State returns the current protocol state.
	State() SessionState

	// Peer returns the code of the counterparty VASP.
	Peer() protocol.VaspCode

	// Log returns a snapshot of the messages received so far, in arrival
	// order.
	Log() []*protocol.Envelope

	// Send posts a message to the counterparty's session channel.
	Send(msg *protocol.Envelope) error

	// Terminate notifies the counterparty and tears the session down. It is
	// idempotent.
	Terminate(code string) error

	// Close tears the session down locally without notifying the
	// counterparty. It is idempotent.
	Close()

	// SetMessageHandler replaces the session's message callback. Setting nil
	// falls the session back to the manager's current default.
	SetMessageHandler(handler MessageHandler)

	// SetErrorHandler replaces the session's error callback. Setting nil
	// falls the session back to the manager's current default.
	SetErrorHandler(handler ErrorHandler)

	// Record snapshots the session into its persistable state.
	Record() *store.SessionRecord
}

// session is the state shared by both session roles: the channel material of
// the two directions, the message log and the callbacks.
type session struct {
	manager *SessionManager
	owner   Session // Exported wrapper handed to application callbacks
	logger  log.Logger

	id   string
	role Role
	peer protocol.VaspCode

	topic  protocol.TopicName // Own inbound topic
	secret []byte             // Symmetric key securing the inbound topic

	peerTopic  protocol.TopicName // Counterparty's inbound topic, empty until known
	peerSecret []byte             // Symmetric key securing the counterparty's topic

	state SessionState
	msgs  []*protocol.Envelope

	msgHandler MessageHandler
	errHandler ErrorHandler

	sub     transport.Subscription
	retired sync.Once
	lock    sync.Mutex
}

func (s *session) ID() string              { return s.id }
func (s *session) Role() Role              { return s.role }
func (s *session) Peer() protocol.VaspCode { return s.peer }

// State returns the current protocol state.
func (s *session) State() SessionState {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// Log returns a snapshot of the messages received so far.
func (s *session) Log() []*protocol.Envelope {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]*protocol.Envelope{}, s.msgs...)
}

// SetMessageHandler replaces the session's message callback.
func (s *session) SetMessageHandler(handler MessageHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.msgHandler = handler
}

// SetErrorHandler replaces the session's error callback.
func (s *session) SetErrorHandler(handler ErrorHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.errHandler = handler
}

// OnMessage implements the transport.Listener interface. It is the single
// authorized path by which a session's observable state advances: the
// message is appended to the log, protocol transitions are applied and the
// message callback is fired.
func (s *session) OnMessage(msg *protocol.Envelope) {
	s.lock.Lock()
	if s.state == StateTerminated {
		// The topic was already retired, never hand traffic to a dead session
		s.lock.Unlock()
		s.logger.Debug("Dropping message for terminated session", "type", msg.Type())
		return
	}
	s.msgs = append(s.msgs, msg)

	switch msg.Type() {
	case protocol.TypeSessionReply:
		// The reply opens the reverse channel for the originator
		if s.role == RoleOriginator && s.state == StateAwaitingReply {
			if reply := msg.SessionReply; reply != nil {
				s.peerTopic = reply.Handshake.Topic
				s.peerSecret = reply.Handshake.Key
			}
			s.state = StateActive
		}
	case protocol.TypeTermination:
		s.state = StateTerminated
	}
	var (
		handler    = s.msgHandler
		terminated = s.state == StateTerminated
	)
	s.lock.Unlock()

	if handler == nil {
		handler = s.manager.messageHandler()
	}
	if handler != nil {
		handler(msg, s.owner)
	}
	if terminated {
		s.retire()
	} else {
		s.manager.persist(s.owner)
	}
}

// OnError implements the transport.Listener interface, forwarding transport
// failures on the session's channel to the error callback.
func (s *session) OnError(err error) {
	s.lock.Lock()
	handler := s.errHandler
	s.lock.Unlock()

	if handler == nil {
		handler = s.manager.errorHandler()
	}
	if handler != nil {
		handler(err, s.owner)
	}
	s.logger.Warn("Session transport failure", "err", err)
}

// record appends a message to the log without firing callbacks or applying
// transitions. It seeds a new beneficiary session with its triggering
// request.
func (s *session) record(msg *protocol.Envelope) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.msgs = append(s.msgs, msg)
}

// Send posts a message to the counterparty's session channel.
func (s *session) Send(msg *protocol.Envelope) error {
	s.lock.Lock()
	var (
		state  = s.state
		topic  = s.peerTopic
		secret = s.peerSecret
	)
	s.lock.Unlock()

	if state == StateTerminated {
		return ErrSessionTerminated
	}
	if topic == "" {
		return ErrNoReplyChannel
	}
	return s.manager.transport.Send(topic, transport.ModeSymmetric, secret, msg)
}

// Terminate notifies the counterparty (best effort) and tears the session
// down. Sessions without an established reverse channel are torn down
// silently.
func (s *session) Terminate(code string) error {
	err := s.Send(protocol.NewTermination(s.id, code))
	if err == ErrNoReplyChannel || err == ErrSessionTerminated {
		err = nil
	}
	s.retire()
	return err
}

// Close tears the session down locally without notifying the counterparty.
func (s *session) Close() {
	s.retire()
}

// retire marks the session terminated and requests the manager to drop it
// from the registry and release its topic, exactly once.
func (s *session) retire() {
	s.retired.Do(func() {
		s.lock.Lock()
		s.state = StateTerminated
		s.lock.Unlock()

		s.logger.Debug("Session retired")
		s.manager.remove(s)
	})
}

// Record snapshots the shared session state into its persistable form.
func (s *session) Record() *store.SessionRecord {
	s.lock.Lock()
	defer s.lock.Unlock()

	return &store.SessionRecord{
		Role:       string(s.role),
		ID:         s.id,
		Peer:       s.peer,
		Topic:      s.topic,
		Secret:     s.secret,
		PeerTopic:  s.peerTopic,
		PeerSecret: s.peerSecret,
		State:      string(s.state),
		Log:        append([]*protocol.Envelope{}, s.msgs...),
	}
}

// OriginatorSession is the session role of the VASP whose customer initiates
// the transfer. It owns the transfer description and drives the exchange.
type OriginatorSession struct {
	session
	info *protocol.TransferInfo
}

// Transfer returns the transfer description the session negotiates.
func (s *OriginatorSession) Transfer() *protocol.TransferInfo {
	return s.info
}

// SendTransferRequest asks the beneficiary VASP to approve the transfer.
func (s *OriginatorSession) SendTransferRequest() error {
	return s.Send(protocol.NewTransferRequest(s.id, s.info))
}

// SendTransferDispatch notifies the beneficiary that the transfer was
// executed on chain.
func (s *OriginatorSession) SendTransferDispatch(tx protocol.Transaction) error {
	return s.Send(protocol.NewTransferDispatch(s.id, tx))
}

// Record snapshots the session, including the negotiated transfer.
func (s *OriginatorSession) Record() *store.SessionRecord {
	record := s.session.Record()
	record.Transfer = s.info
	return record
}

// BeneficiarySession is the session role of the VASP whose customer receives
// the transfer. It is manufactured by the manager from an inbound session
// request.
type BeneficiarySession struct {
	session
}

// SendSessionReply accepts the session request, advertising this side's
// inbound channel to the originator.
func (s *BeneficiarySession) SendSessionReply() error {
	handshake := protocol.Handshake{Topic: s.topic, Key: s.secret}
	return s.Send(protocol.NewSessionReply(s.id, handshake, s.manager.vasp))
}

// SendTransferReply answers a transfer request with the verdict and the
// destination address to pay out to.
func (s *BeneficiarySession) SendTransferReply(transfer protocol.Transfer, destination string) error {
	return s.Send(protocol.NewTransferReply(s.id, transfer, destination))
}

// SendTransferConfirmation acknowledges a dispatched transfer.
func (s *BeneficiarySession) SendTransferConfirmation(tx protocol.Transaction) error {
	return s.Send(protocol.NewTransferConfirmation(s.id, tx))
}
