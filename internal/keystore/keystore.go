// Package keystore persists FROST key packages as password-encrypted
// wallet files, generalizing the teacher's share-storage layer
// (internal/storage) from a single share-blob-per-keyset model to the
// wallet/metadata/multi-backend model SPEC_FULL.md §4.E describes.
package keystore

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

var knownCurves = []string{"secp256k1", "ed25519"}

// Keystore is the password-gated store of a device's wallets. A single
// Keystore instance is unlocked with one password shared across every
// wallet it holds, mirroring the teacher's single-password FileStorage.
type Keystore struct {
	deviceID   string
	deviceName string
	store      Store

	mu          sync.Mutex
	password    []byte
	unlocked    bool
	provisional bool // unlocked without having verified against an existing wallet yet
}

// New creates a locked Keystore backed by store.
func New(deviceID, deviceName string, store Store) *Keystore {
	return &Keystore{deviceID: deviceID, deviceName: deviceName, store: store}
}

// Unlock verifies password against one existing wallet, if any exist;
// with no existing wallets it accepts the password provisionally and
// verifies it on the next AddWallet.
func (ks *Keystore) Unlock(password string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, _, wf, err := ks.locateLocked("")
	if err != nil {
		if fe, ok := err.(*Error); ok && fe.Kind == ErrWalletMissing {
			ks.password = []byte(password)
			ks.unlocked = true
			ks.provisional = true
			return nil
		}
		return err
	}

	if _, err := decrypt(wf.Algorithm, wf.Data, []byte(password)); err != nil {
		return err
	}
	ks.password = []byte(password)
	ks.unlocked = true
	ks.provisional = false
	return nil
}

// Lock discards the in-memory password. AddWallet, GetKeyShare and
// ExportWallet then fail with Locked until the keystore is unlocked
// again; Wallets, ImportWallet and RemoveWallet do not check the lock.
func (ks *Keystore) Lock() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i := range ks.password {
		ks.password[i] = 0
	}
	ks.password = nil
	ks.unlocked = false
	ks.provisional = false
}

func (ks *Keystore) requireUnlocked() error {
	if !ks.unlocked {
		return newError(ErrLocked, "keystore is locked")
	}
	return nil
}

// AddWallet encrypts keyPkg under the keystore's password and persists
// it alongside metadata. If the keystore was unlocked provisionally
// (no prior wallet to verify against), the password is first checked
// against any wallet that has appeared since, and this first write
// fixes it as authoritative.
func (ks *Keystore) AddWallet(metadata WalletMetadata, keyPkg *frost.KeyPackage) (*WalletFile, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.requireUnlocked(); err != nil {
		return nil, err
	}

	if ks.provisional {
		if _, _, existing, err := ks.locateLocked(""); err == nil {
			if _, err := decrypt(existing.Algorithm, existing.Data, ks.password); err != nil {
				return nil, err
			}
		}
	}

	if _, _, wf, err := ks.locateLocked(metadata.WalletID); err == nil {
		if wf.Metadata.ParticipantIndex != metadata.ParticipantIndex {
			return nil, newError(ErrWalletMismatch, "wallet %q participant_index is immutable (have %d, got %d)",
				metadata.WalletID, wf.Metadata.ParticipantIndex, metadata.ParticipantIndex)
		}
		if wf.Metadata.GroupPublicKey != metadata.GroupPublicKey {
			return nil, newError(ErrWalletMismatch, "wallet %q group_public_key does not match the stored value", metadata.WalletID)
		}
	}

	plaintext, err := json.Marshal(keyPkg)
	if err != nil {
		return nil, newError(ErrInvalidParams, "serializing key package: %w", err)
	}

	blob, err := encrypt(AlgorithmArgon2id, plaintext, ks.password)
	if err != nil {
		ks.provisional = false
		return nil, err
	}

	now := time.Now().UTC()
	metadata.DeviceID = ks.deviceID
	metadata.DeviceName = ks.deviceName
	metadata.CurveType = keyPkg.Suite.String()
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = now
	}
	metadata.LastModified = now

	wf := &WalletFile{
		Version:   walletFileVersion,
		Encrypted: true,
		Algorithm: AlgorithmArgon2id,
		Data:      blob,
		Metadata:  metadata,
	}

	name := walletFileName(metadata)
	if err := ks.store.Save(ks.deviceID, metadata.CurveType, name, wf); err != nil {
		return nil, err
	}
	ks.provisional = false
	return wf, nil
}

// GetKeyShare decrypts and returns the FROST key package for walletID.
func (ks *Keystore) GetKeyShare(walletID string) (*frost.KeyPackage, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.requireUnlocked(); err != nil {
		return nil, err
	}

	_, _, wf, err := ks.locateLocked(walletID)
	if err != nil {
		return nil, err
	}

	plaintext, err := decrypt(wf.Algorithm, wf.Data, ks.password)
	if err != nil {
		return nil, err
	}

	var kp frost.KeyPackage
	if err := json.Unmarshal(plaintext, &kp); err != nil {
		return nil, newError(ErrInvalidParams, "parsing key package: %w", err)
	}
	return &kp, nil
}

// ExportWallet returns the on-disk WalletFile for walletID verbatim,
// ready to hand to a peer implementation (CLI or extension) that holds
// the same password.
func (ks *Keystore) ExportWallet(walletID string) (*WalletFile, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.requireUnlocked(); err != nil {
		return nil, err
	}
	_, _, wf, err := ks.locateLocked(walletID)
	return wf, err
}

// ImportWallet persists an externally-produced WalletFile, verifying
// that password can decrypt it before accepting it.
func (ks *Keystore) ImportWallet(wf *WalletFile, password string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, err := decrypt(wf.Algorithm, wf.Data, []byte(password)); err != nil {
		return err
	}

	if _, _, existing, err := ks.locateLocked(wf.Metadata.WalletID); err == nil {
		if existing.Metadata.ParticipantIndex != wf.Metadata.ParticipantIndex {
			return newError(ErrWalletMismatch, "wallet %q participant_index is immutable (have %d, got %d)",
				wf.Metadata.WalletID, existing.Metadata.ParticipantIndex, wf.Metadata.ParticipantIndex)
		}
		if existing.Metadata.GroupPublicKey != wf.Metadata.GroupPublicKey {
			return newError(ErrWalletMismatch, "wallet %q group_public_key does not match the stored value", wf.Metadata.WalletID)
		}
	}

	name := walletFileName(wf.Metadata)
	return ks.store.Save(ks.deviceID, wf.Metadata.CurveType, name, wf)
}

// RemoveWallet deletes a wallet's on-disk file.
func (ks *Keystore) RemoveWallet(walletID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	curve, name, _, err := ks.locateLocked(walletID)
	if err != nil {
		return err
	}
	return ks.store.Delete(ks.deviceID, curve, name)
}

// Wallets lists the metadata of every wallet on this device, across
// both curves, without requiring the keystore to be unlocked —
// metadata is the unencrypted half of a wallet file.
func (ks *Keystore) Wallets() ([]WalletMetadata, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	var out []WalletMetadata
	for _, curve := range knownCurves {
		names, err := ks.store.List(ks.deviceID, curve)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			wf, err := ks.store.Load(ks.deviceID, curve, name)
			if err != nil {
				return nil, err
			}
			out = append(out, wf.Metadata)
		}
	}
	return out, nil
}

// locateLocked finds the WalletFile for walletID, or — when walletID is
// empty — the first wallet file found, used by Unlock to pick a sample
// to verify the password against. Caller must hold ks.mu.
func (ks *Keystore) locateLocked(walletID string) (curve, name string, wf *WalletFile, err error) {
	for _, c := range knownCurves {
		names, lerr := ks.store.List(ks.deviceID, c)
		if lerr != nil {
			return "", "", nil, lerr
		}
		for _, n := range names {
			candidate, lerr := ks.store.Load(ks.deviceID, c, n)
			if lerr != nil {
				return "", "", nil, lerr
			}
			if walletID == "" || candidate.Metadata.WalletID == walletID {
				return c, n, candidate, nil
			}
		}
	}
	if walletID == "" {
		return "", "", nil, newError(ErrWalletMissing, "no wallets exist on this device yet")
	}
	return "", "", nil, newError(ErrWalletMissing, "wallet %q not found", walletID)
}

// walletFileName derives the on-disk slot name for a wallet: its
// wallet id when set, otherwise the hex encoding of its whole group
// public key string.
func walletFileName(m WalletMetadata) string {
	if m.WalletID != "" {
		return m.WalletID
	}
	return hex.EncodeToString([]byte(m.GroupPublicKey))
}
