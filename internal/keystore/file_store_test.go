package keystore

import (
	"path/filepath"
	"testing"
)

func TestFileStoreSaveLoadDeleteRoundTrips(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "wallets"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	wf := &WalletFile{
		Version:   walletFileVersion,
		Encrypted: true,
		Algorithm: AlgorithmArgon2id,
		Data:      "ZmFrZS1kYXRh",
		Metadata:  sampleMetadata("wallet-1"),
	}

	if err := fs.Save("device-1", "secp256k1", "wallet-1", wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load("device-1", "secp256k1", "wallet-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Metadata.WalletID != "wallet-1" {
		t.Errorf("loaded wallet id = %q, want wallet-1", got.Metadata.WalletID)
	}

	names, err := fs.List("device-1", "secp256k1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "wallet-1" {
		t.Fatalf("List = %v, want [wallet-1]", names)
	}

	if err := fs.Delete("device-1", "secp256k1", "wallet-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Load("device-1", "secp256k1", "wallet-1"); err == nil {
		t.Fatal("expected an error loading a deleted wallet")
	}
}

func TestFileStoreLoadMissingWalletReturnsWalletMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, err = fs.Load("device-1", "secp256k1", "nope")
	var fe *Error
	if err == nil {
		t.Fatal("expected an error")
	}
	if fe, _ = err.(*Error); fe == nil || fe.Kind != ErrWalletMissing {
		t.Fatalf("expected ErrWalletMissing, got %v", err)
	}
}

func TestFileStoreListAcrossCurvesWhenCurveUnspecified(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	wf1 := &WalletFile{Metadata: sampleMetadata("wallet-1")}
	wf2 := &WalletFile{Metadata: sampleMetadata("wallet-2")}
	if err := fs.Save("device-1", "secp256k1", "wallet-1", wf1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Save("device-1", "ed25519", "wallet-2", wf2); err != nil {
		t.Fatalf("Save: %v", err)
	}

	names, err := fs.List("device-1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 wallet names across curves, got %v", names)
	}
}
