// Package repository provides KeyStore implementations that persist the key
// ring to a JSON file, PostgreSQL, MySQL or the OS keyring.
package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// keyRecord is the persisted form of an EncryptionKey. Key and Salt are
// URL-safe base64; Key holds wrapped bytes when Wrapped is set.
type keyRecord struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Salt    string    `json:"salt"`
	Added   time.Time `json:"added"`
	Wrapped bool      `json:"wrapped,omitempty"`
}

// sealKey wraps key material when a wrapper is configured.
func sealKey(ctx context.Context, wrapper cryptoDomain.KeyWrapper, key []byte) ([]byte, bool, error) {
	if wrapper == nil {
		return key, false, nil
	}
	wrapped, err := wrapper.Wrap(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return wrapped, true, nil
}

// openKey reverses sealKey. Wrapped material without a wrapper is an error
// because the key cannot be recovered.
func openKey(ctx context.Context, wrapper cryptoDomain.KeyWrapper, material []byte, wrapped bool) ([]byte, error) {
	if !wrapped {
		return material, nil
	}
	if wrapper == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "stored key is wrapped but no KMS key is configured")
	}
	return wrapper.Unwrap(ctx, material)
}

func encodeKeys(
	ctx context.Context,
	wrapper cryptoDomain.KeyWrapper,
	keys []cryptoDomain.EncryptionKey,
) ([]byte, error) {
	records := make([]keyRecord, 0, len(keys))
	for _, key := range keys {
		material, wrapped, err := sealKey(ctx, wrapper, key.Key)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to wrap key")
		}
		records = append(records, keyRecord{
			ID:      key.ID.String(),
			Key:     base64.URLEncoding.EncodeToString(material),
			Salt:    base64.URLEncoding.EncodeToString(key.Salt),
			Added:   key.CreatedAt.UTC(),
			Wrapped: wrapped,
		})
	}
	return json.MarshalIndent(records, "", "  ")
}

func decodeKeys(
	ctx context.Context,
	wrapper cryptoDomain.KeyWrapper,
	data []byte,
) ([]cryptoDomain.EncryptionKey, error) {
	var records []keyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode key records")
	}

	keys := make([]cryptoDomain.EncryptionKey, 0, len(records))
	for _, r := range records {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, apperrors.Wrapf(err, "invalid key id %q", r.ID)
		}
		material, err := base64.URLEncoding.DecodeString(r.Key)
		if err != nil {
			return nil, apperrors.Wrapf(err, "invalid key encoding for %s", r.ID)
		}
		salt, err := base64.URLEncoding.DecodeString(r.Salt)
		if err != nil {
			return nil, apperrors.Wrapf(err, "invalid salt encoding for %s", r.ID)
		}
		key, err := openKey(ctx, wrapper, material, r.Wrapped)
		if err != nil {
			return nil, apperrors.Wrapf(err, "failed to unwrap key %s", r.ID)
		}
		keys = append(keys, cryptoDomain.EncryptionKey{
			ID:        id,
			Key:       key,
			Salt:      salt,
			CreatedAt: r.Added,
		})
	}
	return keys, nil
}
