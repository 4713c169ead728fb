// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package directory

import (
	"context"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/getopenvasp/go-openvasp/protocol"
)

// indexABI is the fragment of the on-chain VASP index contract used by the
// client: one view method resolving a code into the registered account and
// handshake key.
const indexABI = `[{"constant":true,"inputs":[{"name":"code","type":"bytes4"}],"name":"getVasp","outputs":[{"name":"account","type":"address"},{"name":"handshakeKey","type":"bytes"}],"payable":false,"stateMutability":"view","type":"function"}]`

// DialContract connects to an Ethereum node (Infura style endpoint) and
// wraps the VASP index contract at the given address into a directory.
func DialContract(url string, index common.Address) (*ContractDirectory, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	return NewContractDirectory(client, index)
}

// NewContractDirectory wraps an existing Ethereum client into a directory
// backed by the VASP index contract.
func NewContractDirectory(client *ethclient.Client, index common.Address) (*ContractDirectory, error) {
	parsed, err := abi.JSON(strings.NewReader(indexABI))
	if err != nil {
		return nil, err
	}
	return &ContractDirectory{
		client: client,
		index:  index,
		abi:    parsed,
	}, nil
}

// ContractDirectory resolves VASP codes through the on-chain index contract.
type ContractDirectory struct {
	client *ethclient.Client
	index  common.Address
	abi    abi.ABI
}

// Lookup implements the Directory interface, issuing a read-only contract
// call against the index.
func (d *ContractDirectory) Lookup(ctx context.Context, code protocol.VaspCode) (*VaspIdentity, error) {
	blob, err := code.Topic().Bytes()
	if err != nil {
		return nil, err
	}
	var arg [4]byte
	copy(arg[:], blob)

	input, err := d.abi.Pack("getVasp", arg)
	if err != nil {
		return nil, err
	}
	output, err := d.client.CallContract(ctx, ethereum.CallMsg{To: &d.index, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Account      common.Address
		HandshakeKey []byte
	}
	if err := d.abi.Unpack(&result, "getVasp", output); err != nil {
		return nil, err
	}
	if result.Account == (common.Address{}) {
		return nil, ErrUnknownVasp
	}
	return &VaspIdentity{
		Code:         code,
		Account:      strings.ToLower(result.Account.Hex()),
		HandshakeKey: result.HandshakeKey,
	}, nil
}
