package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known anvil/hardhat dev key, never used with real funds.
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(devKey, 84532)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(devAddr), strings.ToLower(s.Address().Hex()))

	// 0x prefix is accepted too.
	s2, err := NewSigner("0x"+devKey, 84532)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())

	_, err = NewSigner("not-a-key", 84532)
	assert.Error(t, err)
}

func TestSignPersonalRoundTrip(t *testing.T) {
	s, err := NewSigner(devKey, 84532)
	require.NoError(t, err)

	msg := []byte("veridex wants you to sign in\nNonce: abc123")
	sig, err := s.SignPersonal(msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+130)

	recovered, err := RecoverPersonal(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)

	// A different message recovers a different address.
	other, err := RecoverPersonal([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestRecoverPersonalRejectsMalformed(t *testing.T) {
	_, err := RecoverPersonal([]byte("m"), "0xzz")
	assert.Error(t, err)

	_, err = RecoverPersonal([]byte("m"), "0xdeadbeef")
	assert.Error(t, err)
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = DecryptKey(blob, "wrong-password")
	assert.Error(t, err)
}
