package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Artifact is a compiled contract: its ABI and creation bytecode. The JSON
// layout matches what solc and hardhat emit, so a compiled escrow artifact
// can be pointed at directly.
type Artifact struct {
	ABI      abi.ABI
	Bytecode []byte
}

type artifactJSON struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

// LoadArtifact reads and parses a compiled contract artifact from path.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read artifact %s: %w", path, err)
	}

	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("chain: parse artifact %s: %w", path, err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("chain: artifact %s has no abi", path)
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi in %s: %w", path, err)
	}

	var bytecode []byte
	if raw.Bytecode != "" {
		bytecode, err = hex.DecodeString(strings.TrimPrefix(raw.Bytecode, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: decode bytecode in %s: %w", path, err)
		}
	}

	return &Artifact{ABI: parsedABI, Bytecode: bytecode}, nil
}
