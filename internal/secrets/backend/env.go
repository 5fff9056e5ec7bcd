package backend

import (
	"context"
	"os"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvBackend serves secrets from process environment variables.
type EnvBackend struct {
	lookup LookupFunc
}

// NewEnvBackend creates an EnvBackend. A nil lookup uses os.LookupEnv.
func NewEnvBackend(lookup LookupFunc) *EnvBackend {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvBackend{lookup: lookup}
}

func (b *EnvBackend) Name() string {
	return "env"
}

func (b *EnvBackend) Fetch(_ context.Context, name string) (secretsDomain.Envelope, error) {
	value, ok := b.lookup(name)
	if !ok {
		return secretsDomain.Envelope{}, notFound("LookupEnv", name)
	}
	return singleValue(name, value)
}

func (b *EnvBackend) Ping(context.Context) error {
	return nil
}
