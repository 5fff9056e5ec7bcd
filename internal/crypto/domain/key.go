// Package domain defines the key material model used to seal cached secrets.
//
// Keys are derived from passphrases and kept in a KeyRing ordered newest
// first. The first key (the primary) seals new values; every key in the
// ring may open existing tokens, so data sealed before a rotation stays
// readable until its key is pruned.
package domain

import (
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// EncryptionKey is a derived symmetric key together with its derivation salt.
type EncryptionKey struct {
	ID        uuid.UUID // Unique identifier (UUIDv7)
	Key       []byte    // Derived key bytes, never logged
	Salt      []byte    // PBKDF2 salt
	CreatedAt time.Time
}

// Age returns how old the key is at now.
func (k *EncryptionKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// Clone returns a deep copy of the key.
func (k EncryptionKey) Clone() EncryptionKey {
	k.Key = append([]byte(nil), k.Key...)
	k.Salt = append([]byte(nil), k.Salt...)
	return k
}

// Wipe overwrites the derived key bytes in place.
func (k *EncryptionKey) Wipe() {
	memguard.WipeBytes(k.Key)
}

// KeyInfo describes a key without exposing its material.
type KeyInfo struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	Age           time.Duration
	Primary       bool
	NearingExpiry bool
}

// KeyRing is an ordered list of keys, newest first. It is not safe for
// concurrent mutation; owners guard it with their own lock.
type KeyRing struct {
	keys []EncryptionKey
}

// NewKeyRing builds a ring from keys already ordered newest first.
func NewKeyRing(keys ...EncryptionKey) *KeyRing {
	return &KeyRing{keys: append([]EncryptionKey(nil), keys...)}
}

// Len returns the number of keys.
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// Primary returns the key used for encryption.
func (r *KeyRing) Primary() (EncryptionKey, bool) {
	if len(r.keys) == 0 {
		return EncryptionKey{}, false
	}
	return r.keys[0], true
}

// At returns the key at index i.
func (r *KeyRing) At(i int) EncryptionKey {
	return r.keys[i]
}

// Keys returns a copy of the slice header; key bytes are shared.
func (r *KeyRing) Keys() []EncryptionKey {
	return append([]EncryptionKey(nil), r.keys...)
}

// Prepend inserts keys, in the given order, ahead of the existing ones.
// keys[0] becomes the primary.
func (r *KeyRing) Prepend(keys ...EncryptionKey) {
	r.keys = append(append([]EncryptionKey(nil), keys...), r.keys...)
}

// Prune removes every key older than expiry, then evicts the oldest keys
// until at most maxKeys remain. A zero expiry or maxKeys disables that step.
// Evicted keys are returned so callers can zero them once nothing
// references them. Prune may leave the ring empty; callers that must keep a
// usable ring check Len afterwards.
func (r *KeyRing) Prune(now time.Time, expiry time.Duration, maxKeys int) []EncryptionKey {
	var (
		kept    []EncryptionKey
		evicted []EncryptionKey
	)
	for _, key := range r.keys {
		if expiry > 0 && key.Age(now) > expiry {
			evicted = append(evicted, key)
			continue
		}
		kept = append(kept, key)
	}
	if maxKeys > 0 && len(kept) > maxKeys {
		evicted = append(evicted, kept[maxKeys:]...)
		kept = kept[:maxKeys]
	}
	r.keys = kept
	return evicted
}

// NearingExpiry returns the keys whose age exceeds ratio*expiry. A zero
// expiry means keys never expire.
func (r *KeyRing) NearingExpiry(now time.Time, expiry time.Duration, ratio float64) []EncryptionKey {
	if expiry <= 0 {
		return nil
	}
	threshold := time.Duration(float64(expiry) * ratio)
	var out []EncryptionKey
	for _, key := range r.keys {
		if key.Age(now) > threshold {
			out = append(out, key)
		}
	}
	return out
}

// Clone returns a deep copy of the ring.
func (r *KeyRing) Clone() *KeyRing {
	keys := make([]EncryptionKey, len(r.keys))
	for i, key := range r.keys {
		keys[i] = key.Clone()
	}
	return &KeyRing{keys: keys}
}

// Close zeroes all key material and empties the ring.
func (r *KeyRing) Close() {
	for i := range r.keys {
		r.keys[i].Wipe()
	}
	r.keys = nil
}
