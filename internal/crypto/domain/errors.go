package domain

import (
	"github.com/allisson/secretkeeper/internal/errors"
)

// Cryptographic operation error definitions.
var (
	// ErrUnsupportedAlgorithm indicates the requested encryption algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrInvalidInput, "unsupported algorithm")

	// ErrInvalidKeySize indicates a key is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrEncryption indicates a value could not be sealed, most often because
	// the key ring is empty.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption indicates no key in the ring could open the token, or the
	// token is malformed. The specific cause is not disclosed.
	ErrDecryption = errors.Wrap(errors.ErrInvalidInput, "decryption failed")

	// ErrKeyRotation indicates a rotation, prune, backup or restore could not complete.
	// The previously active key ring stays in effect.
	ErrKeyRotation = errors.New("key rotation failed")

	// ErrEmptyKeyRing indicates an operation needed at least one key.
	ErrEmptyKeyRing = errors.New("key ring is empty")
)

// ErrBackupNotFound indicates a key store holds no backup snapshot to restore.
var ErrBackupNotFound = errors.Wrap(errors.ErrNotFound, "key backup not found")
