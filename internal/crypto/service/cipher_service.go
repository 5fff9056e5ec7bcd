package service

import (
	"bytes"
	"encoding/base64"
	"sync"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// TokenPrefix marks values sealed by CipherService.
const TokenPrefix = "skv1."

var tokenAAD = []byte("secretkeeper/v1")

// DecryptResult is the outcome of CipherService.Decrypt.
type DecryptResult struct {
	Plaintext []byte
	// KeyIndex is the ring position of the key that opened the token.
	KeyIndex int
	// Reencrypted holds a token sealed with the primary key when the caller
	// asked for re-encryption and KeyIndex > 0. Storing it is up to the caller.
	Reencrypted []byte
}

// CipherService seals values with the primary key of a KeyRing and opens them
// with any key of the ring. Encrypt and Decrypt share a read lock; Replace
// takes the write lock, so rotation only blocks lookups for the swap itself.
type CipherService struct {
	manager AEADManager
	alg     cryptoDomain.Algorithm

	mu      sync.RWMutex
	ring    *cryptoDomain.KeyRing
	ciphers []AEAD
}

// NewCipherService creates a CipherService with an empty ring.
func NewCipherService(manager AEADManager, alg cryptoDomain.Algorithm) *CipherService {
	return &CipherService{
		manager: manager,
		alg:     alg,
		ring:    cryptoDomain.NewKeyRing(),
	}
}

// Replace installs ring and returns the previous one so the caller can Close
// it. The service takes ownership of ring. On error the current ring stays.
func (s *CipherService) Replace(ring *cryptoDomain.KeyRing) (*cryptoDomain.KeyRing, error) {
	ciphers := make([]AEAD, 0, ring.Len())
	for i := 0; i < ring.Len(); i++ {
		c, err := s.manager.CreateCipher(ring.At(i).Key, s.alg)
		if err != nil {
			return nil, apperrors.Wrapf(err, "key %s", ring.At(i).ID)
		}
		ciphers = append(ciphers, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.ring
	s.ring = ring
	s.ciphers = ciphers
	return previous, nil
}

// Encrypt seals plaintext with the primary key and returns a token.
func (s *CipherService) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealLocked(plaintext)
}

func (s *CipherService) sealLocked(plaintext []byte) ([]byte, error) {
	if len(s.ciphers) == 0 {
		return nil, apperrors.Wrap(cryptoDomain.ErrEncryption, cryptoDomain.ErrEmptyKeyRing.Error())
	}
	sealed, err := s.ciphers[0].Seal(plaintext, tokenAAD)
	if err != nil {
		return nil, apperrors.Wrap(cryptoDomain.ErrEncryption, err.Error())
	}

	token := make([]byte, len(TokenPrefix)+base64.RawURLEncoding.EncodedLen(len(sealed)))
	copy(token, TokenPrefix)
	base64.RawURLEncoding.Encode(token[len(TokenPrefix):], sealed)
	return token, nil
}

// Decrypt opens token trying keys newest first. When reencrypt is set and the
// token was sealed with an older key, the result also carries a fresh token
// sealed with the primary key. A malformed token and a token no key can open
// both yield ErrDecryption.
func (s *CipherService) Decrypt(token []byte, reencrypt bool) (DecryptResult, error) {
	if !IsSealed(token) {
		return DecryptResult{}, cryptoDomain.ErrDecryption
	}
	encoded := token[len(TokenPrefix):]
	sealed := make([]byte, base64.RawURLEncoding.DecodedLen(len(encoded)))
	n, err := base64.RawURLEncoding.Decode(sealed, encoded)
	if err != nil {
		return DecryptResult{}, cryptoDomain.ErrDecryption
	}
	sealed = sealed[:n]

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, c := range s.ciphers {
		plaintext, err := c.Open(sealed, tokenAAD)
		if err != nil {
			continue
		}
		result := DecryptResult{Plaintext: plaintext, KeyIndex: i}
		if reencrypt && i > 0 {
			if result.Reencrypted, err = s.sealLocked(plaintext); err != nil {
				return DecryptResult{}, err
			}
		}
		return result, nil
	}
	return DecryptResult{}, cryptoDomain.ErrDecryption
}

// Keys returns a deep copy of the current ring, newest first.
func (s *CipherService) Keys() *cryptoDomain.KeyRing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Clone()
}

// Len returns the number of keys in the ring.
func (s *CipherService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Len()
}

// Algorithm returns the configured AEAD algorithm.
func (s *CipherService) Algorithm() cryptoDomain.Algorithm {
	return s.alg
}

// Close zeroes and drops the ring.
func (s *CipherService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Close()
	s.ciphers = nil
}

// IsSealed reports whether value looks like a CipherService token.
func IsSealed(value []byte) bool {
	return bytes.HasPrefix(value, []byte(TokenPrefix))
}
