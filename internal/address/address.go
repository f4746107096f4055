// Package address derives chain-native addresses from a FROST group
// public key, per ciphersuite: EIP-55 checksummed hex for secp256k1
// (Ethereum and EVM-compatible chains), base58 for ed25519 (Solana).
package address

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

// Derive computes the chain-native address string for a group public
// key under the given ciphersuite. pubKey is the raw encoding found in
// a finalized frost.KeyPackage.GroupPublicKey: 65-byte uncompressed
// point (0x04 || X || Y) for secp256k1, 32-byte compressed point for
// ed25519.
func Derive(suite ciphersuite.Suite, pubKey []byte) (string, error) {
	switch suite {
	case ciphersuite.Secp256k1:
		return DeriveEthereum(pubKey)
	case ciphersuite.Ed25519:
		return DeriveSolana(pubKey)
	default:
		return "", fmt.Errorf("address: unsupported ciphersuite %v", suite)
	}
}

// DeriveEthereum computes the EIP-55 checksummed Ethereum address for an
// uncompressed secp256k1 public key: the last 20 bytes of the Keccak-256
// hash of the 64-byte X||Y point.
func DeriveEthereum(pubKey []byte) (string, error) {
	if len(pubKey) != 65 || pubKey[0] != 0x04 {
		return "", fmt.Errorf("address: expected a 65-byte uncompressed secp256k1 point, got %d bytes", len(pubKey))
	}
	hash := ethcrypto.Keccak256(pubKey[1:])
	addr := common.BytesToAddress(hash[len(hash)-20:])
	return addr.Hex(), nil
}

// DeriveSolana computes the base58-encoded Solana address for a
// compressed ed25519 public key: Solana addresses are simply the raw
// 32-byte public key, base58-encoded with no checksum.
func DeriveSolana(pubKey []byte) (string, error) {
	if len(pubKey) != 32 {
		return "", fmt.Errorf("address: expected a 32-byte ed25519 public key, got %d bytes", len(pubKey))
	}
	return base58.Encode(pubKey), nil
}
