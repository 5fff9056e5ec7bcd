// Package service implements the cryptographic primitives behind the key ring:
// AEAD ciphers, PBKDF2 key derivation, the token-producing CipherService and
// the KMS key wrapper used by the key stores.
package service

import (
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
)

// AEAD seals and opens values with a single key. Sealed output is the nonce
// followed by the ciphertext and its authentication tag.
type AEAD interface {
	// Seal encrypts plaintext under a fresh random nonce, binding aad.
	Seal(plaintext, aad []byte) ([]byte, error)

	// Open reverses Seal. It fails if sealed was produced with another key or aad.
	Open(sealed, aad []byte) ([]byte, error)
}

// AEADManager creates AEAD instances for a key and algorithm.
type AEADManager interface {
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}
