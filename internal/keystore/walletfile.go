package keystore

import "time"

// walletFileVersion is the on-disk schema version SPEC_FULL.md §6 pins.
const walletFileVersion = "2.0"

// Blockchain is one chain entry a wallet's key is registered against.
// Ethereum-compatible chains share one secp256k1 key and differ only by
// chain_id; Solana is the sole ed25519 entry a wallet carries.
type Blockchain struct {
	Blockchain    string  `json:"blockchain"`
	Network       string  `json:"network"`
	ChainID       *uint64 `json:"chain_id,omitempty"`
	Address       string  `json:"address"`
	AddressFormat string  `json:"address_format"`
	Enabled       bool    `json:"enabled"`
}

// WalletMetadata is the unencrypted half of a wallet file: everything
// needed to list, display, and validate a wallet without unlocking it.
type WalletMetadata struct {
	WalletID         string       `json:"wallet_id"`
	DeviceID         string       `json:"device_id"`
	DeviceName       string       `json:"device_name"`
	CurveType        string       `json:"curve_type"`
	Blockchains      []Blockchain `json:"blockchains"`
	Threshold        uint16       `json:"threshold"`
	TotalParticipants uint16      `json:"total_participants"`
	ParticipantIndex uint16       `json:"participant_index"`
	GroupPublicKey   string       `json:"group_public_key"`
	CreatedAt        time.Time    `json:"created_at"`
	LastModified     time.Time    `json:"last_modified"`
	Tags             []string     `json:"tags,omitempty"`
	Description      string       `json:"description,omitempty"`
}

// WalletFile is the bit-exact on-disk format from SPEC_FULL.md §6: a
// thin envelope around a base64 AES-256-GCM blob plus the metadata
// needed to discover and validate the wallet before it is ever
// decrypted.
type WalletFile struct {
	Version   string         `json:"version"`
	Encrypted bool           `json:"encrypted"`
	Algorithm Algorithm      `json:"algorithm"`
	Data      string         `json:"data"`
	Metadata  WalletMetadata `json:"metadata"`
}
