package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/crypto"
)

func newKeyHex(t *testing.T) string {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk))
}

func TestSignProducesVerifiableEnvelope(t *testing.T) {
	key := newKeyHex(t)
	var out bytes.Buffer
	err := runSign([]string{"-key", key, "-action", "place_bet", "-target", "POST /api/bets", "-payload", "-"},
		strings.NewReader(`{"game_key":"g","amount":10}`+"\n"), &out)
	require.NoError(t, err)

	var env crypto.Envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	assert.Equal(t, "place_bet", env.Action)
	assert.Equal(t, "POST /api/bets", env.Target)

	signer, err := crypto.Verify(env, time.Now())
	require.NoError(t, err)
	want, err := crypto.NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(want.Address()), strings.ToLower(signer))
}

func TestSignRejectsBadInput(t *testing.T) {
	key := newKeyHex(t)
	var out bytes.Buffer
	require.Error(t, runSign([]string{"-key", key}, nil, &out), "action required")
	require.Error(t, runSign([]string{"-key", key, "-action", "x"}, nil, &out), "target required")
	require.Error(t, runSign([]string{"-key", key, "-action", "x", "-target", "POST /x", "-payload", "{nope"}, nil, &out))
}

func TestEncryptKeyRoundTrip(t *testing.T) {
	key := newKeyHex(t)
	path := filepath.Join(t.TempDir(), "keeper.key")
	require.NoError(t, runEncryptKey([]string{"-out", path, "-password", "pw"}, strings.NewReader(key+"\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	signer, err := crypto.LoadSigner(crypto.KeyConfig{KeyFile: path, KeyPassword: "pw"})
	require.NoError(t, err)
	want, err := crypto.NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), signer.Address())
}
