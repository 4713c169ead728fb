// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package protocol

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidIdentifier is returned if a VASP account identifier is not a
	// well formed hexadecimal account string of the expected length.
	ErrInvalidIdentifier = errors.New("invalid account identifier")

	// ErrInvalidVaspCode is returned if a VASP code is not exactly 8 lowercase
	// hexadecimal characters.
	ErrInvalidVaspCode = errors.New("invalid vasp code")
)

// VaspCode is a short identifier for a VASP, derived deterministically from
// the last 8 hexadecimal characters of its on-chain account identifier. It
// doubles as the name of the VASP's public handshake topic.
type VaspCode string

// TopicName is a transport level channel name. OpenVASP topics are 4 bytes,
// hex encoded with a 0x prefix.
type TopicName string

// DeriveVaspCode maps an on-chain account identifier to the VASP code owning
// it. The account must be a well formed 20 byte hex string, with or without
// the 0x prefix; the code is the case-normalized last 8 hex characters.
func DeriveVaspCode(account string) (VaspCode, error) {
	if !common.IsHexAddress(account) {
		return "", ErrInvalidIdentifier
	}
	hexpart := strings.TrimPrefix(strings.ToLower(account), "0x")
	return VaspCode(hexpart[len(hexpart)-8:]), nil
}

// ParseVaspCode validates and normalizes an externally supplied VASP code.
func ParseVaspCode(code string) (VaspCode, error) {
	code = strings.ToLower(strings.TrimPrefix(code, "0x"))
	if len(code) != 8 {
		return "", ErrInvalidVaspCode
	}
	if _, err := hex.DecodeString(code); err != nil {
		return "", ErrInvalidVaspCode
	}
	return VaspCode(code), nil
}

// Topic returns the name of the VASP's public handshake topic. Handshake
// requests towards the VASP are posted here, encrypted asymmetrically with
// its long lived handshake key.
func (code VaspCode) Topic() TopicName {
	return TopicName("0x" + string(code))
}

// OriginatorTopic derives the inbound topic of the originator side of a
// session. The role is mixed into the derivation so the two directions of a
// negotiation never collide on the same channel.
func OriginatorTopic(sessionID string) TopicName {
	return sessionTopic(sessionID + "/originator")
}

// BeneficiaryTopic derives the inbound topic of the beneficiary side of a
// session.
func BeneficiaryTopic(sessionID string) TopicName {
	return sessionTopic(sessionID + "/beneficiary")
}

// sessionTopic maps an arbitrary seed onto a 4 byte topic name.
func sessionTopic(seed string) TopicName {
	hash := sha3.Sum256([]byte(seed))
	return TopicName("0x" + hex.EncodeToString(hash[:4]))
}

// Bytes decodes the topic name into its raw 4 byte transport form.
func (topic TopicName) Bytes() ([]byte, error) {
	blob, err := hex.DecodeString(strings.TrimPrefix(string(topic), "0x"))
	if err != nil {
		return nil, err
	}
	if len(blob) != 4 {
		return nil, errors.New("topic not 4 bytes")
	}
	return blob, nil
}
