package service

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Passphrase keeps a configured passphrase encrypted in memory until it is
// needed for key derivation. The zero value is unusable; use NewPassphrase.
type Passphrase struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// NewPassphrase moves value into a memguard enclave. Empty values yield nil.
func NewPassphrase(value string) *Passphrase {
	if value == "" {
		return nil
	}
	// NewEnclave wipes its argument, so hand it a private copy.
	return &Passphrase{enclave: memguard.NewEnclave([]byte(value))}
}

// NewPassphrases wraps every non-empty value, preserving order.
func NewPassphrases(values ...string) []*Passphrase {
	var out []*Passphrase
	for _, v := range values {
		if p := NewPassphrase(v); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Use opens the enclave and passes the plaintext to fn. The plaintext buffer
// is destroyed when fn returns and must not be retained.
func (p *Passphrase) Use(fn func(plaintext []byte) error) error {
	p.mu.Lock()
	enclave := p.enclave
	p.mu.Unlock()
	if enclave == nil {
		return fn(nil)
	}

	buf, err := enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Destroy drops the enclave. Later calls to Use see an empty passphrase.
func (p *Passphrase) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enclave = nil
}
