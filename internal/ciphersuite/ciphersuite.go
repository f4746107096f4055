// Package ciphersuite defines the two FROST curve choices this core
// supports and the small set of facts the rest of the module needs about
// each of them (name, scalar encoding, wallet-file tag).
package ciphersuite

import "fmt"

// Suite identifies the elliptic curve a session's FROST engine runs over.
type Suite uint8

const (
	// Secp256k1 is the Ethereum-compatible curve.
	Secp256k1 Suite = iota + 1
	// Ed25519 is the Solana-compatible curve.
	Ed25519
)

// String renders the suite the way it appears in wallet files and on the wire.
func (s Suite) String() string {
	switch s {
	case Secp256k1:
		return "secp256k1"
	case Ed25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the suite as its wire string, e.g. "secp256k1".
func (s Suite) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the wire string back into a Suite.
func (s *Suite) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"secp256k1"`:
		*s = Secp256k1
	case `"ed25519"`:
		*s = Ed25519
	default:
		return fmt.Errorf("ciphersuite: unknown suite %s", data)
	}
	return nil
}

// Parse converts a curve_type string (as used in CLI flags and wallet
// metadata) into a Suite.
func Parse(curveType string) (Suite, error) {
	switch curveType {
	case "secp256k1":
		return Secp256k1, nil
	case "ed25519":
		return Ed25519, nil
	default:
		return 0, fmt.Errorf("ciphersuite: unsupported curve %q", curveType)
	}
}

// ScalarSize is the fixed width of a canonical scalar/participant-index
// encoding for every suite this core implements.
const ScalarSize = 32

// EncodeParticipantIndex encodes a 1..n participant index into the
// canonical 32-byte scalar representation this suite's underlying FROST
// library uses, per SPEC_FULL.md §9 (secp256k1: big-endian, last 4 bytes
// of the buffer carry the integer; ed25519: little-endian, first bytes
// carry it). Preserving this exactly is required for interop with the
// existing CLI/extension cohort the spec describes.
func (s Suite) EncodeParticipantIndex(index uint16) [ScalarSize]byte {
	var buf [ScalarSize]byte
	switch s {
	case Secp256k1:
		buf[30] = byte(index >> 8)
		buf[31] = byte(index)
	case Ed25519:
		buf[0] = byte(index)
		buf[1] = byte(index >> 8)
	}
	return buf
}

// DecodeParticipantIndex is the inverse of EncodeParticipantIndex.
func (s Suite) DecodeParticipantIndex(buf [ScalarSize]byte) uint16 {
	switch s {
	case Secp256k1:
		return uint16(buf[30])<<8 | uint16(buf[31])
	case Ed25519:
		return uint16(buf[0]) | uint16(buf[1])<<8
	default:
		return 0
	}
}
