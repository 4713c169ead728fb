// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getopenvasp/go-openvasp/protocol"
)

// testListener collects delivered messages and errors for inspection.
type testListener struct {
	msgs []*protocol.Envelope
	errs []error
	lock sync.Mutex
}

func (l *testListener) OnMessage(msg *protocol.Envelope) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *testListener) OnError(err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.errs = append(l.errs, err)
}

func (l *testListener) messages() []*protocol.Envelope {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]*protocol.Envelope{}, l.msgs...)
}

// waitMessages polls until the listener saw the wanted number of messages or
// the timeout expires.
func (l *testListener) waitMessages(t *testing.T, want int) []*protocol.Envelope {
	t.Helper()
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); {
		if msgs := l.messages(); len(msgs) >= want {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	msgs := l.messages()
	t.Fatalf("message count mismatch: have %d, want %d", len(msgs), want)
	return msgs
}

// Tests that symmetric delivery only reaches listeners holding the same
// secret as the sender.
func TestMockSymmetricMatching(t *testing.T) {
	network := NewMockTransport()
	defer network.Close()

	good := new(testListener)
	evil := new(testListener)

	if _, err := network.Subscribe("0x00000001", ModeSymmetric, []byte("secret"), good); err != nil {
		t.Fatalf("failed to subscribe with correct key: %v", err)
	}
	if _, err := network.Subscribe("0x00000001", ModeSymmetric, []byte("guessed"), evil); err != nil {
		t.Fatalf("failed to subscribe with wrong key: %v", err)
	}
	if err := network.Send("0x00000001", ModeSymmetric, []byte("secret"), protocol.NewTermination("sid", "")); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	good.waitMessages(t, 1)

	time.Sleep(10 * time.Millisecond)
	if msgs := evil.messages(); len(msgs) != 0 {
		t.Errorf("wrong key received traffic: have %d messages, want 0", len(msgs))
	}
}

// Tests that asymmetric delivery requires the sender to hold the public half
// of the subscriber's private key.
func TestMockAsymmetricMatching(t *testing.T) {
	network := NewMockTransport()
	defer network.Close()

	listener := new(testListener)
	if _, err := network.Subscribe("0x7dface61", ModeAsymmetric, []byte("private"), listener); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	// Posting with the matching public key must arrive
	if err := network.Send("0x7dface61", ModeAsymmetric, MockPublicKey([]byte("private")), protocol.NewTermination("sid", "")); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	listener.waitMessages(t, 1)

	// Posting with an unrelated key must vanish
	if err := network.Send("0x7dface61", ModeAsymmetric, MockPublicKey([]byte("other")), protocol.NewTermination("sid", "")); err != nil {
		t.Fatalf("failed to send mismatched message: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if msgs := listener.messages(); len(msgs) != 1 {
		t.Errorf("message count mismatch: have %d, want 1", len(msgs))
	}
}

// Tests that messages of one topic reach the listener in arrival order.
func TestMockDeliveryOrder(t *testing.T) {
	network := NewMockTransport()
	defer network.Close()

	listener := new(testListener)
	if _, err := network.Subscribe("0x00000001", ModeSymmetric, []byte("secret"), listener); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	for i := 0; i < 16; i++ {
		env := protocol.NewTermination("sid", "")
		env.Header.MessageID = string(rune('a' + i))
		if err := network.Send("0x00000001", ModeSymmetric, []byte("secret"), env); err != nil {
			t.Fatalf("send %d: failed to send message: %v", i, err)
		}
	}
	msgs := listener.waitMessages(t, 16)
	for i, msg := range msgs {
		if msg.Header.MessageID != string(rune('a'+i)) {
			t.Fatalf("message %d out of order: have %s, want %s", i, msg.Header.MessageID, string(rune('a'+i)))
		}
	}
}

// Tests that unsubscribing stops delivery and that repeated unsubscribes are
// harmless no-ops.
func TestMockUnsubscribeIdempotent(t *testing.T) {
	network := NewMockTransport()
	defer network.Close()

	listener := new(testListener)
	sub, err := network.Subscribe("0x00000001", ModeSymmetric, []byte("secret"), listener)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe() // second call must be a no-op

	if err := network.Send("0x00000001", ModeSymmetric, []byte("secret"), protocol.NewTermination("sid", "")); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if msgs := listener.messages(); len(msgs) != 0 {
		t.Errorf("retired listener received traffic: have %d messages, want 0", len(msgs))
	}
}

// Tests that injected transport failures surface on the error path of every
// listener of the topic.
func TestMockErrorInjection(t *testing.T) {
	network := NewMockTransport()
	defer network.Close()

	listener := new(testListener)
	if _, err := network.Subscribe("0x00000001", ModeSymmetric, []byte("secret"), listener); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	failure := errors.New("node unreachable")
	network.InjectError("0x00000001", failure)

	listener.lock.Lock()
	defer listener.lock.Unlock()
	if len(listener.errs) != 1 || listener.errs[0] != failure {
		t.Errorf("error mismatch: have %v, want [%v]", listener.errs, failure)
	}
}
