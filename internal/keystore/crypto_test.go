package keystore

import "testing"

func TestEncryptDecryptRoundTripsBothAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmArgon2id, AlgorithmPBKDF2} {
		t.Run(string(alg), func(t *testing.T) {
			plaintext := []byte(`{"hello":"world"}`)
			password := []byte("a strong password")

			blob, err := encrypt(alg, plaintext, password)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			got, err := decrypt(alg, blob, password)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if string(got) != string(plaintext) {
				t.Errorf("decrypt(encrypt(x)) = %q, want %q", got, plaintext)
			}
		})
	}
}

func TestDecryptRejectsWrongPassword(t *testing.T) {
	blob, err := encrypt(AlgorithmArgon2id, []byte("secret"), []byte("right"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := decrypt(AlgorithmArgon2id, blob, []byte("wrong")); err == nil {
		t.Fatal("expected an error decrypting with the wrong password")
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	blob, err := encrypt(AlgorithmArgon2id, []byte("secret"), []byte("pw"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := []byte(blob)
	tampered[len(tampered)-1] ^= 1
	if _, err := decrypt(AlgorithmArgon2id, string(tampered), []byte("pw")); err == nil {
		t.Fatal("expected an error decrypting a tampered blob")
	}
}

func TestDecryptRejectsShortPayload(t *testing.T) {
	if _, err := decrypt(AlgorithmArgon2id, "YQ==", []byte("pw")); err == nil {
		t.Fatal("expected an error for a payload too short to contain salt and nonce")
	}
}
