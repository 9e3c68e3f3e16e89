package chain

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifact = `{
  "abi": [
    {"type": "constructor", "inputs": [
      {"name": "question", "type": "string"},
      {"name": "deadline", "type": "uint256"},
      {"name": "oracle", "type": "address"}
    ]},
    {"type": "function", "name": "resolve", "stateMutability": "nonpayable",
     "inputs": [{"name": "outcome", "type": "bool"}], "outputs": []},
    {"type": "function", "name": "resolved", "stateMutability": "view",
     "inputs": [], "outputs": [{"name": "", "type": "bool"}]}
  ],
  "bytecode": "0x6080604052"
}`

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrow.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadArtifact(t *testing.T) {
	a, err := LoadArtifact(writeArtifact(t, testArtifact))
	require.NoError(t, err)

	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, a.Bytecode)
	_, ok := a.ABI.Methods["resolve"]
	assert.True(t, ok)

	// Constructor args pack cleanly against the parsed ABI.
	packed, err := a.ABI.Pack("", "will it rain", big.NewInt(1700000000),
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	require.NoError(t, err)
	assert.NotEmpty(t, packed)
}

func TestLoadArtifactErrors(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadArtifact(writeArtifact(t, "{not json"))
	assert.Error(t, err)

	_, err = LoadArtifact(writeArtifact(t, `{"bytecode": "0x00"}`))
	assert.Error(t, err)

	_, err = LoadArtifact(writeArtifact(t, `{"abi": [], "bytecode": "0xzz"}`))
	assert.Error(t, err)
}
