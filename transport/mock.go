// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package transport

import (
	"bytes"
	"errors"
	"sync"

	"github.com/getopenvasp/go-openvasp/protocol"
	"golang.org/x/crypto/sha3"
)

// MockPublicKey derives the mock public half of a private key. The mock
// transport has no real cryptography; a public key is simply the hash of the
// private one, which preserves the property that only the holder of the
// private key can subscribe to traffic addressed at the public key.
func MockPublicKey(privateKey []byte) []byte {
	hash := sha3.Sum256(privateKey)
	return hash[:]
}

// NewMockTransport creates a transport that short circuits all communication
// through in-process queues, simulating the topic and encryption matching of
// the live network.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		topics: make(map[protocol.TopicName][]*mockSub),
	}
}

// MockTransport simulates the pub/sub network locally. Messages are matched
// on topic, encryption mode and key material, so traffic sent with the wrong
// key never reaches a listener, same as on the live network.
type MockTransport struct {
	topics map[protocol.TopicName][]*mockSub
	closed bool
	lock   sync.RWMutex
}

// mockSub is a single listener registration with its own delivery queue. The
// queue has one consumer goroutine, so messages of a topic are handed to the
// listener in arrival order.
type mockSub struct {
	transport *MockTransport
	topic     protocol.TopicName
	mode      EncryptionMode
	key       []byte // private key in asymmetric mode, secret in symmetric

	listener Listener
	queue    chan *protocol.Envelope
	quit     chan struct{}
	once     sync.Once
}

// Subscribe implements the Transport interface, registering an in-process
// listener for a topic.
func (t *MockTransport) Subscribe(topic protocol.TopicName, mode EncryptionMode, key []byte, listener Listener) (Subscription, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil, errors.New("transport closed")
	}
	sub := &mockSub{
		transport: t,
		topic:     topic,
		mode:      mode,
		key:       append([]byte{}, key...),
		listener:  listener,
		queue:     make(chan *protocol.Envelope, 64),
		quit:      make(chan struct{}),
	}
	t.topics[topic] = append(t.topics[topic], sub)

	go sub.loop()
	return sub, nil
}

// Send implements the Transport interface, delivering the message to every
// subscription whose topic, mode and key material match.
func (t *MockTransport) Send(topic protocol.TopicName, mode EncryptionMode, key []byte, msg *protocol.Envelope) error {
	t.lock.RLock()
	if t.closed {
		t.lock.RUnlock()
		return errors.New("transport closed")
	}
	var targets []*mockSub
	for _, sub := range t.topics[topic] {
		if sub.matches(mode, key) {
			targets = append(targets, sub)
		}
	}
	t.lock.RUnlock()

	// A topic without matching listeners swallows the message, same as the
	// live network would.
	for _, sub := range targets {
		select {
		case sub.queue <- msg:
		case <-sub.quit:
		}
	}
	return nil
}

// InjectError pushes a failure into every listener of a topic, simulating a
// transport level fault on a subscribed channel.
func (t *MockTransport) InjectError(topic protocol.TopicName, err error) {
	t.lock.RLock()
	subs := append([]*mockSub{}, t.topics[topic]...)
	t.lock.RUnlock()

	for _, sub := range subs {
		sub.listener.OnError(err)
	}
}

// Close implements the Transport interface, dropping all subscriptions.
func (t *MockTransport) Close() error {
	t.lock.Lock()
	subs := make([]*mockSub, 0)
	for _, topic := range t.topics {
		subs = append(subs, topic...)
	}
	t.closed = true
	t.lock.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

// matches checks whether an outbound key can reach this subscription. In
// symmetric mode both sides must hold the same secret; in asymmetric mode
// the sender must hold the public half of the subscriber's private key.
func (sub *mockSub) matches(mode EncryptionMode, key []byte) bool {
	if sub.mode != mode {
		return false
	}
	if mode == ModeAsymmetric {
		return bytes.Equal(MockPublicKey(sub.key), key)
	}
	return bytes.Equal(sub.key, key)
}

// loop is the single consumer of the subscription's queue, keeping delivery
// into the listener ordered.
func (sub *mockSub) loop() {
	for {
		// Bail immediately if the subscription was torn down, even if there
		// are still queued messages: a retired listener must not see them.
		select {
		case <-sub.quit:
			return
		default:
		}
		select {
		case msg := <-sub.queue:
			sub.listener.OnMessage(msg)
		case <-sub.quit:
			return
		}
	}
}

// Unsubscribe implements the Subscription interface. The first call removes
// the registration and stops delivery; later calls are no-ops.
func (sub *mockSub) Unsubscribe() {
	sub.once.Do(func() {
		sub.transport.lock.Lock()
		subs := sub.transport.topics[sub.topic]
		for i, s := range subs {
			if s == sub {
				sub.transport.topics[sub.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sub.transport.lock.Unlock()

		close(sub.quit)
	})
}
