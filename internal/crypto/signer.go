package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the oracle wallet key and provides transaction signing plus
// EIP-191 personal-message signing for wallet sign-in.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (8453 for Base mainnet, 84532 for Base Sepolia).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs a transaction with the latest (EIP-1559 capable) signer for
// the configured chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// SignPersonal signs a message with the EIP-191 personal-message prefix and
// returns the hex-encoded 65-byte signature with the recovery byte adjusted
// to the 27/28 convention wallets use.
func (s *Signer) SignPersonal(message []byte) (string, error) {
	sig, err := ethcrypto.Sign(PersonalHash(message), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// PersonalHash computes the EIP-191 digest of a message:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func PersonalHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}

// RecoverPersonal recovers the address that produced an EIP-191 personal
// signature over message. It accepts both 0/1 and 27/28 recovery bytes.
func RecoverPersonal(message []byte, signatureHex string) (common.Address, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(PersonalHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
