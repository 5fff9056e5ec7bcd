// Package domain defines the secret model returned to callers, where it was
// served from, and the error taxonomy shared by backends and the retriever.
package domain

import (
	"fmt"
	"time"
)

// Origin identifies where a secret value was served from.
type Origin string

const (
	OriginLocal       Origin = "local"
	OriginDistributed Origin = "distributed"
	OriginSecondary   Origin = "secondary"
	OriginBackend     Origin = "backend"
)

// Secret is a named secret value.
type Secret struct {
	// Name is the unique key the secret is looked up by.
	Name string
	// Value holds the plaintext in memory only; it is never logged or serialized.
	Value []byte `json:"-"`
	// Origin records which cache tier or backend produced the value.
	Origin Origin
	// FetchedAt is when the value was obtained.
	FetchedAt time.Time
}

// String returns the value as a string.
func (s *Secret) String() string {
	return string(s.Value)
}

// Format redacts the value for every fmt verb so secrets never end up in logs.
func (s *Secret) Format(f fmt.State, _ rune) {
	_, _ = fmt.Fprintf(f, "Secret{Name:%s Origin:%s Value:[REDACTED]}", s.Name, s.Origin)
}
