package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Algorithm tags a wallet file's header carries, per SPEC_FULL.md §4.E.
// The header is authoritative: unlock/import always honors whichever
// tag the file itself carries, never the caller's assumption.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "AES-256-GCM-Argon2id"
	AlgorithmPBKDF2   Algorithm = "AES-256-GCM-PBKDF2"
)

const (
	aesKeySize   = 32 // AES-256
	saltSize     = 16
	nonceSize    = 12
	pbkdf2Rounds = 600000

	// Argon2id parameters for the canonical write path. The wallet file
	// format carries no separate parameter fields (only the algorithm
	// tag), so these are fixed constants rather than per-file settings.
	argon2Time    = 1
	argon2MemoryKiB = 64 * 1024
	argon2Threads = 4
)

func deriveKey(algorithm Algorithm, password, salt []byte) []byte {
	switch algorithm {
	case AlgorithmPBKDF2:
		return pbkdf2.Key(password, salt, pbkdf2Rounds, aesKeySize, sha256.New)
	default:
		return argon2.IDKey(password, salt, argon2Time, argon2MemoryKiB, argon2Threads, aesKeySize)
	}
}

// encrypt produces the base64(salt(16) || nonce(12) || ciphertext || tag(16))
// blob SPEC_FULL.md §4.E and §6 specify, using the requested KDF. AES-GCM
// appends its 16-byte tag to the ciphertext, so no separate handling is
// needed for it.
func encrypt(algorithm Algorithm, plaintext, password []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", newError(ErrInvalidParams, "generating salt: %w", err)
	}
	key := deriveKey(algorithm, password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", newError(ErrInvalidParams, "constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", newError(ErrInvalidParams, "constructing GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", newError(ErrInvalidParams, "generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// decrypt is the inverse of encrypt. A wrong password or a tampered
// file both surface as DecryptionFailed — GCM's tag check cannot tell
// the two apart, and the spec forbids distinguishing them (never
// silently "repair" a file).
func decrypt(algorithm Algorithm, dataB64 string, password []byte) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, newError(ErrDecryptionFailed, "invalid base64 payload: %w", err)
	}
	if len(blob) < saltSize+nonceSize {
		return nil, newError(ErrDecryptionFailed, "payload too short to contain salt and nonce")
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	key := deriveKey(algorithm, password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(ErrDecryptionFailed, "constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newError(ErrDecryptionFailed, "constructing GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, newError(ErrDecryptionFailed, "authentication failed: wrong password or tampered file")
	}
	return plaintext, nil
}
