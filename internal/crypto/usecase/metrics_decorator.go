package usecase

import (
	"context"
	"time"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	"github.com/allisson/secretkeeper/internal/metrics"
)

const metricsDomain = "crypto"

// encryptionManagerWithMetrics decorates EncryptionManager with metrics instrumentation.
type encryptionManagerWithMetrics struct {
	next    EncryptionManager
	metrics metrics.BusinessMetrics
}

// NewEncryptionManagerWithMetrics wraps an EncryptionManager with metrics recording.
func NewEncryptionManagerWithMetrics(manager EncryptionManager, m metrics.BusinessMetrics) EncryptionManager {
	return &encryptionManagerWithMetrics{
		next:    manager,
		metrics: m,
	}
}

func (e *encryptionManagerWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	metrics.Observe(ctx, e.metrics, metricsDomain, operation, start, err != nil)
}

func (e *encryptionManagerWithMetrics) Initialize(ctx context.Context) error {
	return e.next.Initialize(ctx)
}

// Encrypt records metrics for sealing operations.
func (e *encryptionManagerWithMetrics) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	start := time.Now()
	token, err := e.next.Encrypt(ctx, plaintext)
	e.record(ctx, "encrypt", start, err)
	return token, err
}

// Decrypt records metrics for opening operations.
func (e *encryptionManagerWithMetrics) Decrypt(
	ctx context.Context,
	token []byte,
	reencrypt bool,
) (cryptoService.DecryptResult, error) {
	start := time.Now()
	result, err := e.next.Decrypt(ctx, token, reencrypt)
	e.record(ctx, "decrypt", start, err)
	return result, err
}

// Rotate records metrics for key rotations.
func (e *encryptionManagerWithMetrics) Rotate(ctx context.Context, passphrases []string) error {
	start := time.Now()
	err := e.next.Rotate(ctx, passphrases)
	e.record(ctx, "key_rotate", start, err)
	return err
}

// Prune records metrics for on-demand pruning.
func (e *encryptionManagerWithMetrics) Prune(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := e.next.Prune(ctx)
	e.record(ctx, "key_prune", start, err)
	return n, err
}

func (e *encryptionManagerWithMetrics) KeysNearingExpiry() []cryptoDomain.KeyInfo {
	return e.next.KeysNearingExpiry()
}

// AutoRotate records metrics only when a rotation was attempted.
func (e *encryptionManagerWithMetrics) AutoRotate(ctx context.Context) (bool, error) {
	start := time.Now()
	rotated, err := e.next.AutoRotate(ctx)
	if rotated || err != nil {
		e.record(ctx, "key_auto_rotate", start, err)
	}
	return rotated, err
}

// Backup records metrics for key backups.
func (e *encryptionManagerWithMetrics) Backup(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := e.next.Backup(ctx)
	e.record(ctx, "key_backup", start, err)
	return id, err
}

// Restore records metrics for key restores.
func (e *encryptionManagerWithMetrics) Restore(ctx context.Context) error {
	start := time.Now()
	err := e.next.Restore(ctx)
	e.record(ctx, "key_restore", start, err)
	return err
}

func (e *encryptionManagerWithMetrics) HealthCheck(ctx context.Context) bool {
	return e.next.HealthCheck(ctx)
}

func (e *encryptionManagerWithMetrics) Keys() []cryptoDomain.KeyInfo {
	return e.next.Keys()
}

func (e *encryptionManagerWithMetrics) Close() {
	e.next.Close()
}
