package domain

// Algorithm represents the AEAD used to seal values with a derived key.
//
// Both algorithms provide authenticated encryption with equivalent 256-bit
// security; AESGCM is preferred on CPUs with AES-NI, ChaCha20 elsewhere.
type Algorithm string

const (
	// AESGCM is AES-256-GCM (12-byte nonce, 16-byte tag).
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 is ChaCha20-Poly1305 (12-byte nonce, 16-byte tag).
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// Key derivation parameters shared by every stored key.
const (
	// KeySize is the derived key length in bytes.
	KeySize = 32
	// SaltSize is the random salt length in bytes.
	SaltSize = 16
	// DerivationIterations is the PBKDF2-HMAC-SHA256 iteration count.
	DerivationIterations = 100_000
)

// HealthProbe is the plaintext used by cipher round-trip health checks.
const HealthProbe = "encryption_health_check"

// NearExpiryRatio is the fraction of ExpiryDays after which a key is due for rotation.
const NearExpiryRatio = 0.8
