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

// MySQLKeyStore persists the key ring in MySQL.
// Uses BINARY(16) for UUIDs and BLOB for binary data with transaction support.
type MySQLKeyStore struct {
	db        *sql.DB
	txManager database.TxManager
	wrapper   cryptoDomain.KeyWrapper
	clock     clock.Clock
}

// NewMySQLKeyStore creates a new MySQL key store. wrapper may be nil.
func NewMySQLKeyStore(
	db *sql.DB,
	txManager database.TxManager,
	wrapper cryptoDomain.KeyWrapper,
	clk clock.Clock,
) *MySQLKeyStore {
	return &MySQLKeyStore{db: db, txManager: txManager, wrapper: wrapper, clock: clk}
}

// Retrieve loads the ring ordered by position (primary first).
func (m *MySQLKeyStore) Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	querier := database.GetTx(ctx, m.db)

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
			id       []byte
			material []byte
			wrapped  bool
		)
		if err := rows.Scan(&id, &material, &key.Salt, &wrapped, &key.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan encryption key")
		}
		if err := key.ID.UnmarshalBinary(id); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal key id")
		}
		if key.Key, err = openKey(ctx, m.wrapper, material, wrapped); err != nil {
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
func (m *MySQLKeyStore) Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error {
	return m.txManager.WithTx(ctx, func(ctx context.Context) error {
		querier := database.GetTx(ctx, m.db)

		if _, err := querier.ExecContext(ctx, `DELETE FROM encryption_keys`); err != nil {
			return apperrors.Wrap(err, "failed to clear encryption keys")
		}

		query := `INSERT INTO encryption_keys (id, position, key_material, salt, wrapped, created_at)
				  VALUES (?, ?, ?, ?, ?, ?)`

		for i, key := range keys {
			id, err := key.ID.MarshalBinary()
			if err != nil {
				return apperrors.Wrap(err, "failed to marshal key id")
			}
			material, wrapped, err := sealKey(ctx, m.wrapper, key.Key)
			if err != nil {
				return apperrors.Wrap(err, "failed to wrap key")
			}
			if _, err := querier.ExecContext(ctx, query, id, i, material, key.Salt, wrapped, key.CreatedAt); err != nil {
				return apperrors.Wrap(err, "failed to insert encryption key")
			}
		}
		return nil
	})
}

// Backup inserts a snapshot and deletes snapshots beyond retention. MySQL
// rejects LIMIT inside IN subqueries, so the stale ids are selected first.
func (m *MySQLKeyStore) Backup(
	ctx context.Context,
	keys []cryptoDomain.EncryptionKey,
	retention int,
) (string, error) {
	snapshot, err := encodeKeys(ctx, m.wrapper, keys)
	if err != nil {
		return "", err
	}
	backupID, err := uuid.NewV7()
	if err != nil {
		return "", apperrors.Wrap(err, "failed to generate backup id")
	}
	id, err := backupID.MarshalBinary()
	if err != nil {
		return "", apperrors.Wrap(err, "failed to marshal backup id")
	}

	err = m.txManager.WithTx(ctx, func(ctx context.Context) error {
		querier := database.GetTx(ctx, m.db)

		query := `INSERT INTO encryption_key_backups (id, snapshot, created_at) VALUES (?, ?, ?)`
		if _, err := querier.ExecContext(ctx, query, id, snapshot, m.clock.Now().UTC()); err != nil {
			return apperrors.Wrap(err, "failed to insert key backup")
		}

		if retention <= 0 {
			return nil
		}

		rows, err := querier.QueryContext(
			ctx,
			`SELECT id FROM encryption_key_backups ORDER BY created_at DESC, id DESC`,
		)
		if err != nil {
			return apperrors.Wrap(err, "failed to list key backups")
		}
		var stale [][]byte
		for position := 0; rows.Next(); position++ {
			var staleID []byte
			if err := rows.Scan(&staleID); err != nil {
				_ = rows.Close()
				return apperrors.Wrap(err, "failed to scan key backup id")
			}
			if position >= retention {
				stale = append(stale, staleID)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return apperrors.Wrap(err, "failed to iterate key backups")
		}
		_ = rows.Close()

		for _, staleID := range stale {
			if _, err := querier.ExecContext(ctx, `DELETE FROM encryption_key_backups WHERE id = ?`, staleID); err != nil {
				return apperrors.Wrap(err, "failed to prune key backups")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return backupID.String(), nil
}

// Restore loads the newest snapshot.
func (m *MySQLKeyStore) Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	querier := database.GetTx(ctx, m.db)

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
	return decodeKeys(ctx, m.wrapper, snapshot)
}
