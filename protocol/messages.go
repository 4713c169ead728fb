// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package protocol defines the OpenVASP message catalog and the identifier
// derivation rules used to name transport topics.
package protocol

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// MsgType is the numeric descriptor discriminating the message catalog. The
// codes are fixed by the OpenVASP wire protocol.
type MsgType string

const (
	TypeSessionRequest       MsgType = "110"
	TypeSessionReply         MsgType = "150"
	TypeTransferRequest      MsgType = "210"
	TypeTransferReply        MsgType = "250"
	TypeTransferDispatch     MsgType = "310"
	TypeTransferConfirmation MsgType = "350"
	TypeTermination          MsgType = "910"
)

// Header links a message to its session and declares its type. The type is
// stamped by the envelope constructors and never mutated afterwards.
type Header struct {
	Type      MsgType `json:"type"`
	MessageID string  `json:"msgid"`
	SessionID string  `json:"session"`
	Code      string  `json:"code,omitempty"` // Reply/termination status code
}

// Envelope is the in-memory shape of every message travelling between two
// VASPs. Exactly one of the payload fields is set, matching the header's
// type descriptor; the transport adapter owns the wire (de)serialization.
type Envelope struct {
	Header Header `json:"msg"`

	SessionRequest       *SessionRequest       `json:"sessionRequest,omitempty"`
	SessionReply         *SessionReply         `json:"sessionReply,omitempty"`
	TransferRequest      *TransferRequest      `json:"transferRequest,omitempty"`
	TransferReply        *TransferReply        `json:"transferReply,omitempty"`
	TransferDispatch     *TransferDispatch     `json:"transferDispatch,omitempty"`
	TransferConfirmation *TransferConfirmation `json:"transferConfirmation,omitempty"`
	Termination          *Termination          `json:"termination,omitempty"`
}

// Handshake carries the reply channel material of the sending side: the
// topic its session listens on and the symmetric key securing it. Each side
// of a negotiation generates its own, so the two directions run over two
// independent secrets.
type Handshake struct {
	Topic TopicName     `json:"topic"`
	Key   hexutil.Bytes `json:"key"`
}

// VaspInfo identifies a VASP towards its counterparty.
type VaspInfo struct {
	Name string        `json:"name,omitempty"`
	ID   string        `json:"id"`           // On-chain account identifier
	PK   hexutil.Bytes `json:"pk,omitempty"` // Long lived handshake public key
}

// Code derives the VASP code from the carried account identifier.
func (info *VaspInfo) Code() (VaspCode, error) {
	return DeriveVaspCode(info.ID)
}

// Party is one end of the underlying asset transfer: a customer of a VASP.
type Party struct {
	Name    string   `json:"name,omitempty"`
	Account string   `json:"account,omitempty"` // Customer's blockchain account
	VASP    VaspCode `json:"vasp"`              // Code of the VASP servicing the party
}

// Transfer describes the virtual asset movement being negotiated.
type Transfer struct {
	AssetType          string `json:"va"`
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destination,omitempty"`
}

// TransferInfo is the application supplied description of a transfer that a
// new originator session should negotiate.
type TransferInfo struct {
	Originator  Party    `json:"originator"`
	Beneficiary Party    `json:"beneficiary"`
	Transfer    Transfer `json:"transfer"`
}

// Transaction is a reference to the executed blockchain transaction.
type Transaction struct {
	ID             string    `json:"txid"`
	DateTime       time.Time `json:"datetime"`
	SendingAddress string    `json:"sendingaddr,omitempty"`
}

// SessionRequest establishes a new session with a counterparty VASP. It is
// the only message type accepted on a VASP's public handshake topic.
type SessionRequest struct {
	Handshake Handshake `json:"handshake"`
	VASP      VaspInfo  `json:"vasp"`
}

// SessionReply accepts a session request, opening the reverse channel.
type SessionReply struct {
	Handshake Handshake `json:"handshake"`
	VASP      VaspInfo  `json:"vasp"`
}

// TransferRequest asks the beneficiary VASP to approve a transfer.
type TransferRequest struct {
	Originator  Party    `json:"originator"`
	Beneficiary Party    `json:"beneficiary"`
	Transfer    Transfer `json:"transfer"`
}

// TransferReply is the beneficiary VASP's verdict on a transfer request,
// naming the destination address to pay out to.
type TransferReply struct {
	Transfer           Transfer `json:"transfer"`
	DestinationAddress string   `json:"destination"`
}

// TransferDispatch notifies the beneficiary that the transfer was executed
// on chain.
type TransferDispatch struct {
	Tx Transaction `json:"tx"`
}

// TransferConfirmation acknowledges receipt of the dispatched transfer.
type TransferConfirmation struct {
	Tx Transaction `json:"tx"`
}

// Termination closes a session from either side.
type Termination struct{}

// NewSessionRequest assembles a handshake request for a new session.
func NewSessionRequest(sessionID string, handshake Handshake, vasp VaspInfo) *Envelope {
	return &Envelope{
		Header:         newHeader(TypeSessionRequest, sessionID, ""),
		SessionRequest: &SessionRequest{Handshake: handshake, VASP: vasp},
	}
}

// NewSessionReply assembles the acceptance of a handshake request.
func NewSessionReply(sessionID string, handshake Handshake, vasp VaspInfo) *Envelope {
	return &Envelope{
		Header:       newHeader(TypeSessionReply, sessionID, ""),
		SessionReply: &SessionReply{Handshake: handshake, VASP: vasp},
	}
}

// NewTransferRequest assembles a transfer approval request.
func NewTransferRequest(sessionID string, info *TransferInfo) *Envelope {
	return &Envelope{
		Header: newHeader(TypeTransferRequest, sessionID, ""),
		TransferRequest: &TransferRequest{
			Originator:  info.Originator,
			Beneficiary: info.Beneficiary,
			Transfer:    info.Transfer,
		},
	}
}

// NewTransferReply assembles the beneficiary's verdict on a transfer.
func NewTransferReply(sessionID string, transfer Transfer, destination string) *Envelope {
	return &Envelope{
		Header:        newHeader(TypeTransferReply, sessionID, ""),
		TransferReply: &TransferReply{Transfer: transfer, DestinationAddress: destination},
	}
}

// NewTransferDispatch assembles the on-chain execution notification.
func NewTransferDispatch(sessionID string, tx Transaction) *Envelope {
	return &Envelope{
		Header:           newHeader(TypeTransferDispatch, sessionID, ""),
		TransferDispatch: &TransferDispatch{Tx: tx},
	}
}

// NewTransferConfirmation assembles the receipt acknowledgement.
func NewTransferConfirmation(sessionID string, tx Transaction) *Envelope {
	return &Envelope{
		Header:               newHeader(TypeTransferConfirmation, sessionID, ""),
		TransferConfirmation: &TransferConfirmation{Tx: tx},
	}
}

// NewTermination assembles a session teardown notice.
func NewTermination(sessionID string, code string) *Envelope {
	return &Envelope{
		Header:      newHeader(TypeTermination, sessionID, code),
		Termination: &Termination{},
	}
}

// newHeader stamps a fresh header with a unique message id.
func newHeader(kind MsgType, sessionID string, code string) Header {
	return Header{
		Type:      kind,
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		Code:      code,
	}
}

// Type returns the declared type descriptor of the message.
func (env *Envelope) Type() MsgType {
	return env.Header.Type
}

// SessionID returns the session linkage field of the message.
func (env *Envelope) SessionID() string {
	return env.Header.SessionID
}

// Verify checks that the envelope carries exactly one payload and that it
// matches the header's type descriptor.
func (env *Envelope) Verify() error {
	var (
		count int
		match bool
	)
	check := func(kind MsgType, set bool) {
		if !set {
			return
		}
		count++
		if kind == env.Header.Type {
			match = true
		}
	}
	check(TypeSessionRequest, env.SessionRequest != nil)
	check(TypeSessionReply, env.SessionReply != nil)
	check(TypeTransferRequest, env.TransferRequest != nil)
	check(TypeTransferReply, env.TransferReply != nil)
	check(TypeTransferDispatch, env.TransferDispatch != nil)
	check(TypeTransferConfirmation, env.TransferConfirmation != nil)
	check(TypeTermination, env.Termination != nil)
	if count != 1 {
		return fmt.Errorf("envelope carries %d payloads, want 1", count)
	}
	if !match {
		return fmt.Errorf("payload does not match type descriptor %s", env.Header.Type)
	}
	return nil
}
