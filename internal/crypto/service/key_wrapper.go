package service

import (
	"context"
	"fmt"

	"gocloud.dev/secrets"

	// Register all KMS provider drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// KMSKeyWrapper implements domain.KeyWrapper on top of a gocloud secrets.Keeper.
// Supported URIs: gcpkms://, awskms://, azurekeyvault://, hashivault://, base64key://
type KMSKeyWrapper struct {
	keeper *secrets.Keeper
}

// OpenKeyWrapper opens the keeper behind keyURI.
func OpenKeyWrapper(ctx context.Context, keyURI string) (*KMSKeyWrapper, error) {
	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	return &KMSKeyWrapper{keeper: keeper}, nil
}

// Wrap encrypts key with the KMS key.
func (w *KMSKeyWrapper) Wrap(ctx context.Context, key []byte) ([]byte, error) {
	wrapped, err := w.keeper.Encrypt(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

// Unwrap decrypts key material produced by Wrap.
func (w *KMSKeyWrapper) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	key, err := w.keeper.Decrypt(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	return key, nil
}

// Close releases the keeper.
func (w *KMSKeyWrapper) Close() error {
	return w.keeper.Close()
}
