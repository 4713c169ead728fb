// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package openvasp implements the client side of the OpenVASP messaging
// protocol, used between regulated asset transfer intermediaries (VASPs) to
// exchange travel rule metadata about a transfer before executing it.
//
// Two counterparties negotiate a private encrypted channel (a session) over
// a shared pub/sub transport and exchange a fixed catalog of typed messages
// on it. Every VASP listens on one public, asymmetrically encrypted topic
// that only ever carries session requests; all further traffic of a
// negotiation flows over two per-session symmetric topics, one per
// direction, each secured by an independently generated shared secret.
//
// The heart of the package is the SessionManager: it creates originator
// sessions, manufactures beneficiary sessions from inbound session requests,
// couples session lifetimes to transport subscriptions and answers blocking
// queries about the registry's state.
package openvasp

import (
	"errors"

	"github.com/getopenvasp/go-openvasp/protocol"
)

var (
	// ErrNilTransferInfo is returned if an originator session is attempted
	// to be created without the transfer it should negotiate.
	ErrNilTransferInfo = errors.New("missing transfer info")

	// ErrDuplicateSession is returned if a session is attempted to be
	// registered under an identifier that is already live. The existing
	// session is never overwritten.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrSessionTerminated is returned if an operation is requested on a
	// session that already reached its terminal state.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrNoReplyChannel is returned if a message is attempted to be sent
	// before the counterparty's inbound channel is known (an originator
	// session that has not received its session reply yet).
	ErrNoReplyChannel = errors.New("no reply channel established")

	// ErrUnknownRole is returned if a persisted session record declares a
	// role the client does not know how to rehydrate.
	ErrUnknownRole = errors.New("unknown session role")
)

// Role tags the two sides of a travel rule negotiation.
type Role string

const (
	RoleOriginator  Role = "originator"
	RoleBeneficiary Role = "beneficiary"
)

// SessionState is the externally observable protocol state of a session.
type SessionState string

const (
	// StateCreated is the initial state of an originator session, before its
	// handshake request went out.
	StateCreated SessionState = "created"

	// StateAwaitingReply is the originator's state between sending the
	// handshake request and receiving the session reply.
	StateAwaitingReply SessionState = "awaiting-reply"

	// StateEstablished is the beneficiary's entry state: receiving the
	// handshake request is what creates the session, so it is live from the
	// first moment.
	StateEstablished SessionState = "established"

	// StateActive is the originator's state after the session reply opened
	// the reverse channel.
	StateActive SessionState = "active"

	// StateTerminated is the terminal state of both roles.
	StateTerminated SessionState = "terminated"
)

// parseState validates a persisted protocol state.
func parseState(state string) (SessionState, error) {
	switch s := SessionState(state); s {
	case StateCreated, StateAwaitingReply, StateEstablished, StateActive, StateTerminated:
		return s, nil
	}
	return "", errors.New("unknown session state")
}

// MessageHandler is an application callback invoked for every message
// delivered into a session. Handshake requests arrive with the freshly
// created beneficiary session.
type MessageHandler func(msg *protocol.Envelope, sess Session)

// ErrorHandler is an application callback invoked for failures surfaced by
// the transport. VASP level failures are not attributable to a negotiation
// and arrive with a nil session.
type ErrorHandler func(err error, sess Session)
