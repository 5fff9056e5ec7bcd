package app

import (
	"context"
	"fmt"
	"time"

	"github.com/allisson/secretkeeper/internal/config"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoRepository "github.com/allisson/secretkeeper/internal/crypto/repository"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	cryptoUsecase "github.com/allisson/secretkeeper/internal/crypto/usecase"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// ErrEncryptionDisabled is returned by EncryptionManager when ENCRYPTION_KEY is unset.
var ErrEncryptionDisabled = apperrors.Wrap(apperrors.ErrInvalidInput, "ENCRYPTION_KEY is not configured")

// EncryptionEnabled reports whether cached values are sealed.
func (c *Container) EncryptionEnabled() bool {
	return c.config.EncryptionKey != ""
}

// KeyWrapper returns the KMS key wrapper, or nil when KMS_KEY_URI is unset.
func (c *Container) KeyWrapper() (cryptoDomain.KeyWrapper, error) {
	var err error
	c.keyWrapperInit.Do(func() {
		c.keyWrapper, err = c.initKeyWrapper()
		if err != nil {
			c.initErrors["keyWrapper"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["keyWrapper"]; exists {
		return nil, storedErr
	}
	return c.keyWrapper, nil
}

// KeyStore returns the key store selected by KEY_STORE_DRIVER.
func (c *Container) KeyStore() (cryptoUsecase.KeyStore, error) {
	var err error
	c.keyStoreInit.Do(func() {
		c.keyStore, err = c.initKeyStore()
		if err != nil {
			c.initErrors["keyStore"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["keyStore"]; exists {
		return nil, storedErr
	}
	return c.keyStore, nil
}

// EncryptionManager returns the initialized encryption manager.
func (c *Container) EncryptionManager() (cryptoUsecase.EncryptionManager, error) {
	var err error
	c.encryptionManagerInit.Do(func() {
		c.encryptionManager, err = c.initEncryptionManager()
		if err != nil {
			c.initErrors["encryptionManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["encryptionManager"]; exists {
		return nil, storedErr
	}
	return c.encryptionManager, nil
}

func (c *Container) initKeyWrapper() (cryptoDomain.KeyWrapper, error) {
	if c.config.KMSKeyURI == "" {
		return nil, nil
	}
	wrapper, err := cryptoService.OpenKeyWrapper(context.Background(), c.config.KMSKeyURI)
	if err != nil {
		return nil, err
	}
	return wrapper, nil
}

// initKeyStore creates the key store based on the configured driver.
func (c *Container) initKeyStore() (cryptoUsecase.KeyStore, error) {
	wrapper, err := c.KeyWrapper()
	if err != nil {
		return nil, fmt.Errorf("failed to get key wrapper for key store: %w", err)
	}

	switch c.config.KeyStoreDriver {
	case config.KeyStoreFile:
		return cryptoRepository.NewFileKeyStore(c.config.KeyStorePath, c.config.KeyBackupDir, wrapper, c.clock), nil
	case config.KeyStoreKeyring:
		return cryptoRepository.NewKeyringKeyStore("", wrapper, c.clock), nil
	case config.KeyStorePostgres, config.KeyStoreMySQL:
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for key store: %w", err)
		}
		txManager, err := c.TxManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get tx manager for key store: %w", err)
		}
		if c.config.KeyStoreDriver == config.KeyStoreMySQL {
			return cryptoRepository.NewMySQLKeyStore(db, txManager, wrapper, c.clock), nil
		}
		return cryptoRepository.NewPostgreSQLKeyStore(db, txManager, wrapper, c.clock), nil
	default:
		return nil, fmt.Errorf("unsupported key store driver: %s", c.config.KeyStoreDriver)
	}
}

// initEncryptionManager builds the manager, loads the key ring and wraps it
// with metrics.
func (c *Container) initEncryptionManager() (cryptoUsecase.EncryptionManager, error) {
	if !c.EncryptionEnabled() {
		return nil, ErrEncryptionDisabled
	}

	store, err := c.KeyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get key store for encryption manager: %w", err)
	}

	breakers := c.Breakers()
	cipher := cryptoService.NewCipherService(
		cryptoService.NewAEADManager(),
		cryptoDomain.Algorithm(c.config.EncryptionAlgorithm),
	)

	manager := cryptoUsecase.NewEncryptionManager(
		cipher,
		cryptoService.NewKeyDeriver(),
		store,
		breakers,
		c.clock,
		c.Logger(),
		cryptoUsecase.Options{
			Passphrase:          cryptoService.NewPassphrase(c.config.EncryptionKey),
			PreviousPassphrases: cryptoService.NewPassphrases(c.config.PreviousEncryptionKeys...),
			Expiry:              time.Duration(c.config.ExpiryDays) * 24 * time.Hour,
			MaxKeys:             c.config.MaxKeys,
			AutoRotate:          c.config.AutoKeyRotation,
			BackupRetention:     c.config.BackupRetentionLimit,
		},
	)

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for encryption manager: %w", err)
	}
	manager = cryptoUsecase.NewEncryptionManagerWithMetrics(manager, businessMetrics)

	if err := manager.Initialize(context.Background()); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to initialize encryption keys: %w", err)
	}
	return manager, nil
}
