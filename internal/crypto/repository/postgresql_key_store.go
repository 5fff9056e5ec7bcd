package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/juju/clock"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	"github.com/allisson/secretkeeper/internal/database"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// PostgreSQLKeyStore persists the key ring in PostgreSQL.
// Uses native UUID and BYTEA types with transaction support via database.GetTx().
type PostgreSQLKeyStore struct {
	db        *sql.DB
	txManager database.TxManager
	wrapper   cryptoDomain.KeyWrapper
	clock     clock.Clock
}

// NewPostgreSQLKeyStore creates a new PostgreSQL key store. wrapper may be nil.
func NewPostgreSQLKeyStore(
	db *sql.DB,
	txManager database.TxManager,
	wrapper cryptoDomain.KeyWrapper,
	clk clock.Clock,
) *PostgreSQLKeyStore {
	return &PostgreSQLKeyStore{db: db, txManager: txManager, wrapper: wrapper, clock: clk}
}

// Retrieve loads the ring ordered by position (primary first).
func (p *PostgreSQLKeyStore) Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, key_material, salt, wrapped, created_at
			  FROM encryption_keys
			  ORDER BY position ASC`

	rows, err := querier.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list encryption keys")
	}
	defer func() { _ = rows.Close() }()

	var keys []cryptoDomain.EncryptionKey
	for rows.Next() {
		var (
			key      cryptoDomain.EncryptionKey
			material []byte
			wrapped  bool
		)
		if err := rows.Scan(&key.ID, &material, &key.Salt, &wrapped, &key.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan encryption key")
		}
		if key.Key, err = openKey(ctx, p.wrapper, material, wrapped); err != nil {
			return nil, apperrors.Wrapf(err, "failed to unwrap key %s", key.ID)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate encryption keys")
	}
	return keys, nil
}

// Store replaces every stored key in a single transaction.
func (p *PostgreSQLKeyStore) Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error {
	return p.txManager.WithTx(ctx, func(ctx context.Context) error {
		querier := database.GetTx(ctx, p.db)

		if _, err := querier.ExecContext(ctx, `DELETE FROM encryption_keys`); err != nil {
			return apperrors.Wrap(err, "failed to clear encryption keys")
		}

		query := `INSERT INTO encryption_keys (id, position, key_material, salt, wrapped, created_at)
				  VALUES ($1, $2, $3, $4, $5, $6)`

		for i, key := range keys {
			material, wrapped, err := sealKey(ctx, p.wrapper, key.Key)
			if err != nil {
				return apperrors.Wrap(err, "failed to wrap key")
			}
			if _, err := querier.ExecContext(ctx, query, key.ID, i, material, key.Salt, wrapped, key.CreatedAt); err != nil {
				return apperrors.Wrap(err, "failed to insert encryption key")
			}
		}
		return nil
	})
}

// Backup inserts a snapshot and deletes snapshots beyond retention.
func (p *PostgreSQLKeyStore) Backup(
	ctx context.Context,
	keys []cryptoDomain.EncryptionKey,
	retention int,
) (string, error) {
	snapshot, err := encodeKeys(ctx, p.wrapper, keys)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", apperrors.Wrap(err, "failed to generate backup id")
	}

	err = p.txManager.WithTx(ctx, func(ctx context.Context) error {
		querier := database.GetTx(ctx, p.db)

		query := `INSERT INTO encryption_key_backups (id, snapshot, created_at) VALUES ($1, $2, $3)`
		if _, err := querier.ExecContext(ctx, query, id, snapshot, p.clock.Now().UTC()); err != nil {
			return apperrors.Wrap(err, "failed to insert key backup")
		}

		if retention <= 0 {
			return nil
		}
		query = `DELETE FROM encryption_key_backups
				 WHERE id NOT IN (
				 	SELECT id FROM encryption_key_backups
				 	ORDER BY created_at DESC, id DESC
				 	LIMIT $1
				 )`
		if _, err := querier.ExecContext(ctx, query, retention); err != nil {
			return apperrors.Wrap(err, "failed to prune key backups")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Restore loads the newest snapshot.
func (p *PostgreSQLKeyStore) Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT snapshot FROM encryption_key_backups
			  ORDER BY created_at DESC, id DESC
			  LIMIT 1`

	var snapshot []byte
	if err := querier.QueryRowContext(ctx, query).Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cryptoDomain.ErrBackupNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get key backup")
	}
	return decodeKeys(ctx, p.wrapper, snapshot)
}
