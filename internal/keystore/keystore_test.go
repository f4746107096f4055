package keystore

import (
	"errors"
	"testing"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

func sampleKeyPackage() *frost.KeyPackage {
	return &frost.KeyPackage{
		Suite:            ciphersuite.Secp256k1,
		ParticipantIndex: 1,
		Threshold:        2,
		TotalParties:     3,
		GroupPublicKey:   []byte{0x04, 0x01, 0x02},
		SaveData:         []byte(`{"fake":"save-data"}`),
	}
}

func sampleMetadata(walletID string) WalletMetadata {
	return WalletMetadata{
		WalletID:          walletID,
		CurveType:         "secp256k1",
		Threshold:         2,
		TotalParticipants: 3,
		ParticipantIndex:  1,
		GroupPublicKey:    "0x040102",
	}
}

func TestKeystoreGetKeyShareFailsWhenLocked(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if _, err := ks.GetKeyShare("wallet-1"); err == nil {
		t.Fatal("expected an error from a locked keystore")
	} else {
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != ErrLocked {
			t.Fatalf("expected ErrLocked, got %v", err)
		}
	}
}

func TestKeystoreAddAndGetKeyShareRoundTrips(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if err := ks.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock (provisional): %v", err)
	}

	kp := sampleKeyPackage()
	if _, err := ks.AddWallet(sampleMetadata("wallet-1"), kp); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	got, err := ks.GetKeyShare("wallet-1")
	if err != nil {
		t.Fatalf("GetKeyShare: %v", err)
	}
	if got.ParticipantIndex != kp.ParticipantIndex || string(got.SaveData) != string(kp.SaveData) {
		t.Fatalf("round-tripped key package does not match: got %+v", got)
	}
}

func TestKeystoreUnlockRejectsWrongPassword(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if err := ks.Unlock("correct password"); err != nil {
		t.Fatalf("Unlock (provisional): %v", err)
	}
	if _, err := ks.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	ks.Lock()

	if err := ks.Unlock("wrong password"); err == nil {
		t.Fatal("expected an error unlocking with the wrong password")
	} else {
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != ErrDecryptionFailed {
			t.Fatalf("expected ErrDecryptionFailed, got %v", err)
		}
	}
}

func TestKeystoreAddWalletRejectsParticipantIndexChange(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if err := ks.Unlock("pw"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := ks.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	changed := sampleMetadata("wallet-1")
	changed.ParticipantIndex = 2
	if _, err := ks.AddWallet(changed, sampleKeyPackage()); err == nil {
		t.Fatal("expected an error changing participant_index for an existing wallet")
	} else {
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != ErrWalletMismatch {
			t.Fatalf("expected ErrWalletMismatch, got %v", err)
		}
	}
}

func TestKeystoreExportImportRoundTrips(t *testing.T) {
	src := New("device-1", "laptop", NewMemoryStore())
	if err := src.Unlock("shared-password"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := src.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	wf, err := src.ExportWallet("wallet-1")
	if err != nil {
		t.Fatalf("ExportWallet: %v", err)
	}

	dst := New("device-2", "phone", NewMemoryStore())
	if err := dst.ImportWallet(wf, "shared-password"); err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if err := dst.Unlock("shared-password"); err != nil {
		t.Fatalf("Unlock on destination: %v", err)
	}
	kp, err := dst.GetKeyShare("wallet-1")
	if err != nil {
		t.Fatalf("GetKeyShare on destination: %v", err)
	}
	if kp.ParticipantIndex != 1 {
		t.Errorf("expected participant index 1, got %d", kp.ParticipantIndex)
	}
}

func TestKeystoreImportRejectsWrongPassword(t *testing.T) {
	src := New("device-1", "laptop", NewMemoryStore())
	if err := src.Unlock("shared-password"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := src.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	wf, err := src.ExportWallet("wallet-1")
	if err != nil {
		t.Fatalf("ExportWallet: %v", err)
	}

	dst := New("device-2", "phone", NewMemoryStore())
	if err := dst.ImportWallet(wf, "wrong-password"); err == nil {
		t.Fatal("expected an error importing with the wrong password")
	}
}

func TestKeystoreRemoveWalletDeletesIt(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if err := ks.Unlock("pw"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := ks.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	if err := ks.RemoveWallet("wallet-1"); err != nil {
		t.Fatalf("RemoveWallet: %v", err)
	}
	if _, err := ks.GetKeyShare("wallet-1"); err == nil {
		t.Fatal("expected an error fetching a removed wallet")
	}
}

func TestKeystoreWalletsListsMetadataAcrossCurves(t *testing.T) {
	ks := New("device-1", "laptop", NewMemoryStore())
	if err := ks.Unlock("pw"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := ks.AddWallet(sampleMetadata("wallet-1"), sampleKeyPackage()); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	edMeta := sampleMetadata("wallet-2")
	edMeta.CurveType = "ed25519"
	edKp := sampleKeyPackage()
	edKp.Suite = ciphersuite.Ed25519
	if _, err := ks.AddWallet(edMeta, edKp); err != nil {
		t.Fatalf("AddWallet (ed25519): %v", err)
	}

	wallets, err := ks.Wallets()
	if err != nil {
		t.Fatalf("Wallets: %v", err)
	}
	if len(wallets) != 2 {
		t.Fatalf("expected 2 wallets, got %d", len(wallets))
	}
}
