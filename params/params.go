// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package params contains constants relevant to all subsystems.
package params

import "time"

const (
	// WhisperTTL is the time-to-live requested for posted Whisper envelopes.
	// Travel rule negotiations are interactive, so there is no point keeping
	// messages floating in the network for long.
	WhisperTTL = 60 // seconds

	// WhisperPoWTime is the maximum time to spend computing the proof of work
	// for a posted envelope.
	WhisperPoWTime = 5 // seconds

	// WhisperPoWTarget is the minimal proof of work required for a posted
	// envelope to be accepted by the network.
	WhisperPoWTarget = 0.2

	// DirectoryTimeout bounds a single on-chain VASP directory lookup.
	DirectoryTimeout = 10 * time.Second

	// SessionSecretSize is the byte length of the symmetric secret generated
	// for every session direction.
	SessionSecretSize = 32
)
