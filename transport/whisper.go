// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package transport

import (
	"context"
	"encoding/json"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
	whisper "github.com/ethereum/go-ethereum/whisper/shhclient"
	whisperv6 "github.com/ethereum/go-ethereum/whisper/whisperv6"
	"github.com/getopenvasp/go-openvasp/params"
	"github.com/getopenvasp/go-openvasp/protocol"
)

// DialWhisper connects to the Whisper API of an Ethereum node (Infura style
// websocket endpoint) and wraps it into a transport.
func DialWhisper(url string) (*WhisperTransport, error) {
	client, err := whisper.Dial(url)
	if err != nil {
		return nil, err
	}
	return NewWhisperTransport(client), nil
}

// NewWhisperTransport wraps an existing Whisper RPC client into a transport.
func NewWhisperTransport(client *whisper.Client) *WhisperTransport {
	return &WhisperTransport{
		client: client,
		logger: log.New("transport", "whisper"),
	}
}

// WhisperTransport carries OpenVASP envelopes over Ethereum Whisper. Topics
// map onto 4 byte Whisper topics, asymmetric channels onto Whisper key pairs
// and symmetric channels onto Whisper symmetric keys. Message payloads are
// JSON encoded envelopes.
type WhisperTransport struct {
	client *whisper.Client
	subs   []*whisperSub
	logger log.Logger
	lock   sync.Mutex
}

// whisperSub tracks one live Whisper filter subscription along with the key
// material installed into the node for it.
type whisperSub struct {
	transport *WhisperTransport
	sub       ethereum.Subscription
	keyID     string
	mode      EncryptionMode
	quit      chan struct{}
	once      sync.Once
}

// Subscribe implements the Transport interface, installing the key material
// into the Whisper node and streaming matching envelopes to the listener.
func (t *WhisperTransport) Subscribe(topic protocol.TopicName, mode EncryptionMode, key []byte, listener Listener) (Subscription, error) {
	blob, err := topic.Bytes()
	if err != nil {
		return nil, err
	}
	var (
		ctx      = context.Background()
		criteria = whisperv6.Criteria{
			Topics:   []whisperv6.TopicType{whisperv6.BytesToTopic(blob)},
			AllowP2P: true,
		}
	)
	switch mode {
	case ModeAsymmetric:
		id, err := t.client.AddPrivateKey(ctx, key)
		if err != nil {
			return nil, err
		}
		criteria.PrivateKeyID = id
	case ModeSymmetric:
		id, err := t.client.AddSymmetricKey(ctx, key)
		if err != nil {
			return nil, err
		}
		criteria.SymKeyID = id
	}
	sink := make(chan *whisperv6.Message, 64)
	sub, err := t.client.SubscribeMessages(ctx, criteria, sink)
	if err != nil {
		return nil, err
	}
	wsub := &whisperSub{
		transport: t,
		sub:       sub,
		mode:      mode,
		quit:      make(chan struct{}),
	}
	if mode == ModeAsymmetric {
		wsub.keyID = criteria.PrivateKeyID
	} else {
		wsub.keyID = criteria.SymKeyID
	}
	t.lock.Lock()
	t.subs = append(t.subs, wsub)
	t.lock.Unlock()

	go func() {
		for {
			select {
			case raw := <-sink:
				msg := new(protocol.Envelope)
				if err := json.Unmarshal(raw.Payload, msg); err != nil {
					listener.OnError(err)
					continue
				}
				if err := msg.Verify(); err != nil {
					listener.OnError(err)
					continue
				}
				listener.OnMessage(msg)

			case err := <-sub.Err():
				if err != nil {
					listener.OnError(err)
				}
				return

			case <-wsub.quit:
				return
			}
		}
	}()
	return wsub, nil
}

// Send implements the Transport interface, posting a JSON encoded envelope
// to the Whisper network.
func (t *WhisperTransport) Send(topic protocol.TopicName, mode EncryptionMode, key []byte, msg *protocol.Envelope) error {
	blob, err := topic.Bytes()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var (
		ctx  = context.Background()
		post = whisperv6.NewMessage{
			Topic:     whisperv6.BytesToTopic(blob),
			Payload:   payload,
			TTL:       params.WhisperTTL,
			PowTime:   params.WhisperPoWTime,
			PowTarget: params.WhisperPoWTarget,
		}
	)
	switch mode {
	case ModeAsymmetric:
		post.PublicKey = key

	case ModeSymmetric:
		// Whisper posts with symmetric keys pre-installed in the node. The
		// key is removed again right after to avoid accumulating key ids.
		id, err := t.client.AddSymmetricKey(ctx, key)
		if err != nil {
			return err
		}
		defer t.client.DeleteSymmetricKey(ctx, id)
		post.SymKeyID = id
	}
	if _, err := t.client.Post(ctx, post); err != nil {
		t.logger.Warn("Failed to post message", "topic", topic, "err", err)
		return err
	}
	return nil
}

// Close implements the Transport interface, dropping all subscriptions.
func (t *WhisperTransport) Close() error {
	t.lock.Lock()
	subs := append([]*whisperSub{}, t.subs...)
	t.subs = nil
	t.lock.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

// Unsubscribe implements the Subscription interface, tearing down the filter
// and deleting the installed key material. Repeated calls are no-ops.
func (sub *whisperSub) Unsubscribe() {
	sub.once.Do(func() {
		close(sub.quit)
		sub.sub.Unsubscribe()

		ctx := context.Background()
		if sub.mode == ModeAsymmetric {
			sub.transport.client.DeleteKeyPair(ctx, sub.keyID)
		} else {
			sub.transport.client.DeleteSymmetricKey(ctx, sub.keyID)
		}
		sub.transport.lock.Lock()
		for i, s := range sub.transport.subs {
			if s == sub {
				sub.transport.subs = append(sub.transport.subs[:i], sub.transport.subs[i+1:]...)
				break
			}
		}
		sub.transport.lock.Unlock()
	})
}
