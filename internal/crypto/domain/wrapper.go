package domain

import "context"

// KeyWrapper seals stored key material with an external key (a KMS key or a
// local master key). Stores that receive a nil wrapper persist keys as is.
type KeyWrapper interface {
	Wrap(ctx context.Context, key []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
	Close() error
}
