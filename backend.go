// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package openvasp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/getopenvasp/go-openvasp/config"
	"github.com/getopenvasp/go-openvasp/directory"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/getopenvasp/go-openvasp/store"
	"github.com/getopenvasp/go-openvasp/transport"
)

// Backend assembles a runnable VASP node out of its components: persistent
// session storage, the encrypted transport, the counterparty directory and
// the session manager on top.
type Backend struct {
	config    *config.Config
	database  *store.Store
	transport transport.Transport
	manager   *SessionManager
	logger    log.Logger
}

// NewBackend creates a live VASP node from a configuration: it opens the
// session database, dials the Whisper node, wires the directory (on-chain
// index contract if configured, statically configured peers otherwise) and
// restores any sessions persisted by a previous run.
func NewBackend(cfg *config.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	net, err := transport.DialWhisper(cfg.NodeURL)
	if err != nil {
		return nil, err
	}
	var dir directory.Directory
	if cfg.DirectoryContract != "" {
		contract, err := directory.DialContract(cfg.NodeURL, common.HexToAddress(cfg.DirectoryContract))
		if err != nil {
			net.Close()
			return nil, err
		}
		dir = contract
	} else {
		static := directory.NewStaticDirectory()
		for _, peer := range cfg.Peers {
			code, err := protocol.DeriveVaspCode(peer.Account)
			if err != nil {
				net.Close()
				return nil, err
			}
			key, err := hexutil.Decode(peer.HandshakeKey)
			if err != nil {
				net.Close()
				return nil, err
			}
			static.Register(&directory.VaspIdentity{
				Code:         code,
				Name:         peer.Name,
				Account:      peer.Account,
				HandshakeKey: key,
			})
		}
		dir = static
	}
	return newBackend(cfg, net, dir)
}

// NewCustomBackend creates a VASP node on top of an already constructed
// transport and directory. It is the assembly path for tests and for
// embedders bringing their own network stack.
func NewCustomBackend(cfg *config.Config, net transport.Transport, dir directory.Directory) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newBackend(cfg, net, dir)
}

// newBackend finishes the node assembly on top of an already constructed
// transport and directory.
func newBackend(cfg *config.Config, net transport.Transport, dir directory.Directory) (*Backend, error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		net.Close()
		return nil, err
	}
	handshakeKey, err := cfg.HandshakeKey()
	if err != nil {
		db.Close()
		net.Close()
		return nil, err
	}
	// Advertise the public half of the handshake key in outbound requests
	var handshakePub []byte
	if priv, err := crypto.ToECDSA(handshakeKey); err == nil {
		handshakePub = crypto.FromECDSAPub(&priv.PublicKey)
	}
	backend := &Backend{
		config:    cfg,
		database:  db,
		transport: net,
		logger:    log.Root(),
	}
	manager, err := NewSessionManager(ManagerConfig{
		VASP: protocol.VaspInfo{
			Name: cfg.VaspName,
			ID:   cfg.VaspAccount,
			PK:   handshakePub,
		},
		HandshakeKey:   handshakeKey,
		Transport:      net,
		Directory:      dir,
		Store:          db,
		MessageHandler: backend.handleMessage,
		ErrorHandler:   backend.handleError,
	})
	if err != nil {
		db.Close()
		net.Close()
		return nil, err
	}
	backend.manager = manager
	backend.restoreSessions()

	return backend, nil
}

// restoreSessions rehydrates the sessions a previous run left behind.
func (b *Backend) restoreSessions() {
	records, err := b.database.All()
	if err != nil {
		b.logger.Warn("Failed to enumerate persisted sessions", "err", err)
		return
	}
	for _, record := range records {
		if _, err := b.manager.RestoreSession(record); err != nil {
			b.logger.Warn("Failed to restore session", "session", record.ID, "err", err)
			continue
		}
		b.logger.Info("Restored persisted session", "session", record.ID, "role", record.Role)
	}
}

// Name returns the human readable name the node advertises.
func (b *Backend) Name() string {
	return b.config.VaspName
}

// Manager returns the session manager driving the node's negotiations.
func (b *Backend) Manager() *SessionManager {
	return b.manager
}

// CreateTransfer opens a new travel rule negotiation for the given transfer
// and returns the identifier of the created session.
func (b *Backend) CreateTransfer(info *protocol.TransferInfo) (string, error) {
	sess, err := b.manager.CreateOriginatorSession(info)
	if err != nil {
		return "", err
	}
	return sess.ID(), nil
}

// handleMessage is the node's default message callback. Inbound handshakes
// are acknowledged immediately so the originator can proceed; everything
// else is surfaced through the logs and the session's message log.
func (b *Backend) handleMessage(msg *protocol.Envelope, sess Session) {
	if sess == nil {
		return
	}
	b.logger.Info("Session message", "session", sess.ID(), "role", sess.Role(), "type", msg.Type())

	if msg.Type() == protocol.TypeSessionRequest {
		if beneficiary, ok := sess.(*BeneficiarySession); ok {
			if err := beneficiary.SendSessionReply(); err != nil {
				b.logger.Warn("Failed to acknowledge handshake", "session", sess.ID(), "err", err)
			}
		}
	}
}

// handleError is the node's default error callback.
func (b *Backend) handleError(err error, sess Session) {
	if sess != nil {
		b.logger.Warn("Session failure", "session", sess.ID(), "err", err)
	} else {
		b.logger.Warn("Node level failure", "err", err)
	}
}

// Close tears the node down, persisting live sessions for a later restart.
func (b *Backend) Close() error {
	b.manager.Close()
	b.transport.Close()
	return b.database.Close()
}
