package address

import (
	"testing"

	"github.com/mr-tron/base58"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

func TestDeriveEthereumIsDeterministicAndChecksummed(t *testing.T) {
	pub := make([]byte, 65)
	pub[0] = 0x04
	for i := 1; i < 65; i++ {
		pub[i] = byte(i)
	}

	addr, err := DeriveEthereum(pub)
	if err != nil {
		t.Fatalf("DeriveEthereum: %v", err)
	}
	if len(addr) != 42 || addr[:2] != "0x" {
		t.Fatalf("expected a 0x-prefixed 42-char address, got %q", addr)
	}

	addr2, err := DeriveEthereum(pub)
	if err != nil {
		t.Fatalf("DeriveEthereum (second call): %v", err)
	}
	if addr != addr2 {
		t.Errorf("expected deterministic output, got %q and %q", addr, addr2)
	}

	via, err := Derive(ciphersuite.Secp256k1, pub)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if via != addr {
		t.Errorf("Derive(secp256k1) = %q, want %q", via, addr)
	}
}

func TestDeriveEthereumRejectsWrongLength(t *testing.T) {
	if _, err := DeriveEthereum(make([]byte, 33)); err == nil {
		t.Fatal("expected an error for a compressed (33-byte) point")
	}
}

func TestDeriveSolanaRoundTripsThroughBase58(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i * 7)
	}

	addr, err := DeriveSolana(pub)
	if err != nil {
		t.Fatalf("DeriveSolana: %v", err)
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		t.Fatalf("base58.Decode(%q): %v", addr, err)
	}
	if string(decoded) != string(pub) {
		t.Errorf("round-tripped address does not match the original public key")
	}

	via, err := Derive(ciphersuite.Ed25519, pub)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if via != addr {
		t.Errorf("Derive(ed25519) = %q, want %q", via, addr)
	}
}

func TestDeriveSolanaRejectsWrongLength(t *testing.T) {
	if _, err := DeriveSolana(make([]byte, 31)); err == nil {
		t.Fatal("expected an error for a 31-byte key")
	}
}

func TestDeriveRejectsUnknownSuite(t *testing.T) {
	if _, err := Derive(0, make([]byte, 32)); err == nil {
		t.Fatal("expected an error for an unrecognized ciphersuite")
	}
}
