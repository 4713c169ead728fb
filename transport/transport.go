// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package transport is the pub/sub layer carrying OpenVASP messages between
// counterparties.
//
// Every channel ("topic") is encrypted in one of two modes: asymmetrically
// with a VASP's long lived handshake key pair, or symmetrically with a per
// session shared secret. Live code should use the Whisper implementation;
// the mock implementation short circuits everything through in-process
// queues for testing.
package transport

import "github.com/getopenvasp/go-openvasp/protocol"

// EncryptionMode selects the cryptographic envelope of a topic.
type EncryptionMode int

const (
	// ModeAsymmetric encrypts a topic with a long lived key pair. Subscribers
	// supply the private key, senders the public one.
	ModeAsymmetric EncryptionMode = iota

	// ModeSymmetric encrypts a topic with a shared secret supplied by both
	// sides.
	ModeSymmetric
)

// Listener receives the inbound events of one subscribed topic. Messages of
// a single topic are delivered in arrival order; decoding or transport
// failures arrive on the error path instead, never as a panic or a synchronous
// fault in an unrelated call stack.
type Listener interface {
	// OnMessage is invoked for every decoded message on the topic.
	OnMessage(msg *protocol.Envelope)

	// OnError is invoked when the topic surfaces a failure.
	OnError(err error)
}

// Subscription is a handle on a single topic listener registration.
type Subscription interface {
	// Unsubscribe removes the listener. It is idempotent: repeated calls are
	// no-ops, not errors.
	Unsubscribe()
}

// Transport is the pub/sub adapter consumed by the session engine.
type Transport interface {
	// Subscribe registers a listener for a topic. The key is the private key
	// in asymmetric mode and the shared secret in symmetric mode.
	Subscribe(topic protocol.TopicName, mode EncryptionMode, key []byte, listener Listener) (Subscription, error)

	// Send posts a message to a topic. The key is the recipient's public key
	// in asymmetric mode and the shared secret in symmetric mode.
	Send(topic protocol.TopicName, mode EncryptionMode, key []byte, msg *protocol.Envelope) error

	// Close tears down the transport and all its subscriptions.
	Close() error
}
