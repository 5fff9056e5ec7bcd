package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateLocalSecretsURI generates a base64key:// URI for testing.
func generateLocalSecretsURI(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return "base64key://" + base64.URLEncoding.EncodeToString(key)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func TestOpenKeyWrapper(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_LocalSecrets", func(t *testing.T) {
		wrapper, err := OpenKeyWrapper(ctx, generateLocalSecretsURI(t))
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, wrapper.Close())
		}()

		key := randomKey(t)
		wrapped, err := wrapper.Wrap(ctx, key)
		require.NoError(t, err)
		assert.NotEqual(t, key, wrapped)

		unwrapped, err := wrapper.Unwrap(ctx, wrapped)
		require.NoError(t, err)
		assert.Equal(t, key, unwrapped)
	})

	t.Run("Error_WrongMasterKey", func(t *testing.T) {
		w1, err := OpenKeyWrapper(ctx, generateLocalSecretsURI(t))
		require.NoError(t, err)
		defer func() { _ = w1.Close() }()
		w2, err := OpenKeyWrapper(ctx, generateLocalSecretsURI(t))
		require.NoError(t, err)
		defer func() { _ = w2.Close() }()

		wrapped, err := w1.Wrap(ctx, randomKey(t))
		require.NoError(t, err)
		_, err = w2.Unwrap(ctx, wrapped)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unwrap key")
	})

	t.Run("Error_InvalidURI", func(t *testing.T) {
		wrapper, err := OpenKeyWrapper(ctx, "invalid://uri")
		assert.Error(t, err)
		assert.Nil(t, wrapper)
		assert.Contains(t, err.Error(), "failed to open KMS keeper")
	})

	t.Run("Error_EmptyURI", func(t *testing.T) {
		wrapper, err := OpenKeyWrapper(ctx, "")
		assert.Error(t, err)
		assert.Nil(t, wrapper)
	})
}
