// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package config loads and validates the operator supplied settings of a
// VASP daemon. Settings are read from an optional JSON file and can be
// overridden individually through VASP_ prefixed environment variables.
package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/getopenvasp/go-openvasp/protocol"
)

var (
	// ErrMissingIdentity is returned if the configuration does not name the
	// VASP's on-chain account.
	ErrMissingIdentity = errors.New("missing vasp account")

	// ErrMissingHandshakeKey is returned if the configuration does not carry
	// the private key of the VASP's public handshake topic.
	ErrMissingHandshakeKey = errors.New("missing handshake key")
)

// PeerConfig is a statically configured counterparty VASP, used when no
// on-chain index contract is available.
type PeerConfig struct {
	Name         string `json:"name"`
	Account      string `json:"account"`
	HandshakeKey string `json:"handshakeKey"`
}

// Config is the full assembly of settings a VASP daemon runs with.
type Config struct {
	VaspName            string       `json:"vaspName"            env:"VASP_NAME"`
	VaspAccount         string       `json:"vaspAccount"         env:"VASP_ACCOUNT"`
	HandshakePrivateKey string       `json:"handshakePrivateKey" env:"VASP_HANDSHAKE_KEY"`
	NodeURL             string       `json:"nodeURL"             env:"VASP_NODE_URL"`
	DirectoryContract   string       `json:"directoryContract"   env:"VASP_DIRECTORY_CONTRACT"`
	DataDir             string       `json:"dataDir"             env:"VASP_DATADIR"`
	Peers               []PeerConfig `json:"peers"`
}

// Load assembles the configuration from the given JSON file (skipped if the
// path is empty) and the process environment, the latter taking precedence.
func Load(path string) (*Config, error) {
	config := &Config{
		DataDir: ".",
	}
	if path != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, config); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the assembled configuration for the settings the daemon
// cannot run without.
func (c *Config) Validate() error {
	if c.VaspAccount == "" {
		return ErrMissingIdentity
	}
	if _, err := protocol.DeriveVaspCode(c.VaspAccount); err != nil {
		return err
	}
	if c.HandshakePrivateKey == "" {
		return ErrMissingHandshakeKey
	}
	if _, err := hexutil.Decode(c.HandshakePrivateKey); err != nil {
		return err
	}
	return nil
}

// VaspCode derives the VASP code from the configured account.
func (c *Config) VaspCode() (protocol.VaspCode, error) {
	return protocol.DeriveVaspCode(c.VaspAccount)
}

// HandshakeKey decodes the configured handshake private key.
func (c *Config) HandshakeKey() ([]byte, error) {
	return hexutil.Decode(c.HandshakePrivateKey)
}
