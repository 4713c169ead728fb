// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tests that a configuration file is loaded and validated.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaspd.json")
	blob := `{
		"vaspName": "Example VASP",
		"vaspAccount": "0x6befaf0656b953b188a0ee3bf3db03d07dface61",
		"handshakePrivateKey": "0x0102030405060708010203040506070801020304050607080102030405060708",
		"peers": [{"name": "Peer VASP", "account": "0x0000000000000000000000000000000012345678", "handshakeKey": "0x01"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0600))

	config, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Example VASP", config.VaspName)
	require.Len(t, config.Peers, 1)

	code, err := config.VaspCode()
	require.NoError(t, err)
	require.EqualValues(t, "7dface61", code)

	key, err := config.HandshakeKey()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

// Tests that environment variables override file settings.
func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaspd.json")
	blob := `{
		"vaspName": "File VASP",
		"vaspAccount": "0x6befaf0656b953b188a0ee3bf3db03d07dface61",
		"handshakePrivateKey": "0x01"
	}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0600))

	t.Setenv("VASP_NAME", "Env VASP")

	config, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Env VASP", config.VaspName)
}

// Tests that incomplete configurations are rejected.
func TestValidate(t *testing.T) {
	tests := []struct {
		config Config
		fail   bool
	}{
		{Config{VaspAccount: "0x6befaf0656b953b188a0ee3bf3db03d07dface61", HandshakePrivateKey: "0x01"}, false},
		{Config{HandshakePrivateKey: "0x01"}, true},
		{Config{VaspAccount: "0x6befaf0656b953b188a0ee3bf3db03d07dface61"}, true},
		{Config{VaspAccount: "not-an-address", HandshakePrivateKey: "0x01"}, true},
		{Config{VaspAccount: "0x6befaf0656b953b188a0ee3bf3db03d07dface61", HandshakePrivateKey: "zz"}, true},
	}
	for i, tt := range tests {
		err := tt.config.Validate()
		if tt.fail {
			require.Errorf(t, err, "test %d: validation should have failed", i)
		} else {
			require.NoErrorf(t, err, "test %d: validation should have passed", i)
		}
	}
}
