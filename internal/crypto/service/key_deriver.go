package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// KeyDeriver turns passphrases into EncryptionKeys with PBKDF2-HMAC-SHA256.
type KeyDeriver struct{}

// NewKeyDeriver creates a KeyDeriver.
func NewKeyDeriver() *KeyDeriver {
	return &KeyDeriver{}
}

// Derive returns the KeySize-byte key for passphrase and salt.
func (d *KeyDeriver) Derive(passphrase, salt []byte) []byte {
	return pbkdf2.Key(
		passphrase,
		salt,
		cryptoDomain.DerivationIterations,
		cryptoDomain.KeySize,
		sha256.New,
	)
}

// NewKey derives a key from passphrase under a fresh random salt.
func (d *KeyDeriver) NewKey(passphrase []byte, now time.Time) (cryptoDomain.EncryptionKey, error) {
	if len(passphrase) == 0 {
		return cryptoDomain.EncryptionKey{}, apperrors.Wrap(apperrors.ErrInvalidInput, "passphrase is empty")
	}

	salt := make([]byte, cryptoDomain.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return cryptoDomain.EncryptionKey{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return cryptoDomain.EncryptionKey{}, fmt.Errorf("failed to generate key id: %w", err)
	}

	return cryptoDomain.EncryptionKey{
		ID:        id,
		Key:       d.Derive(passphrase, salt),
		Salt:      salt,
		CreatedAt: now.UTC(),
	}, nil
}

// GeneratePassphrase returns 32 random bytes encoded as URL-safe base64.
func GeneratePassphrase() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
