package service

import (
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
)

// cipherFactories maps each supported algorithm to its constructor.
var cipherFactories = map[cryptoDomain.Algorithm]func(key []byte) (AEAD, error){
	cryptoDomain.AESGCM: func(key []byte) (AEAD, error) {
		return NewAESGCM(key)
	},
	cryptoDomain.ChaCha20: func(key []byte) (AEAD, error) {
		return NewChaCha20Poly1305(key)
	},
}

// CipherFactory builds per-key AEADs for the key ring.
type CipherFactory struct{}

// NewAEADManager returns the AEADManager used by CipherService.
func NewAEADManager() *CipherFactory {
	return &CipherFactory{}
}

// CreateCipher fails with ErrInvalidKeySize for keys that are not KeySize
// bytes and with ErrUnsupportedAlgorithm for anything but aes-gcm and
// chacha20-poly1305.
func (CipherFactory) CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}
	factory, ok := cipherFactories[alg]
	if !ok {
		return nil, cryptoDomain.ErrUnsupportedAlgorithm
	}
	return factory(key)
}
