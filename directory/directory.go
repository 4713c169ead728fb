// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package directory resolves VASP codes to counterparty identities: the
// account, display name and handshake public key needed to open a session
// towards a VASP.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/getopenvasp/go-openvasp/protocol"
)

// ErrUnknownVasp is returned if a VASP code cannot be resolved to a
// registered identity.
var ErrUnknownVasp = errors.New("unknown vasp code")

// VaspIdentity is the public identity of a VASP as registered in the
// directory.
type VaspIdentity struct {
	Code         protocol.VaspCode `json:"code"`
	Name         string            `json:"name,omitempty"`
	Account      string            `json:"account"`
	HandshakeKey hexutil.Bytes     `json:"handshakeKey"`
}

// Info converts the identity into the protocol level VASP descriptor.
func (id *VaspIdentity) Info() protocol.VaspInfo {
	return protocol.VaspInfo{
		Name: id.Name,
		ID:   id.Account,
		PK:   id.HandshakeKey,
	}
}

// Directory is the lookup service resolving VASP codes. Live deployments
// read the on-chain registry; tests and config-pinned setups use a static
// in-memory one.
type Directory interface {
	// Lookup resolves a VASP code into its registered identity.
	Lookup(ctx context.Context, code protocol.VaspCode) (*VaspIdentity, error)
}

// NewStaticDirectory creates an empty in-memory directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		vasps: make(map[protocol.VaspCode]*VaspIdentity),
	}
}

// StaticDirectory is a map backed directory for tests and for deployments
// that pin their counterparties in the local configuration.
type StaticDirectory struct {
	vasps map[protocol.VaspCode]*VaspIdentity
	lock  sync.RWMutex
}

// Register inserts or replaces the identity of a VASP.
func (d *StaticDirectory) Register(id *VaspIdentity) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.vasps[id.Code] = id
}

// Lookup implements the Directory interface.
func (d *StaticDirectory) Lookup(ctx context.Context, code protocol.VaspCode) (*VaspIdentity, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	id, ok := d.vasps[code]
	if !ok {
		return nil, ErrUnknownVasp
	}
	return id, nil
}
