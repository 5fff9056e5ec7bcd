package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/secretkeeper/internal/config"
	"github.com/allisson/secretkeeper/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		LogLevel:                       "error",
		ServerHost:                     "localhost",
		ServerPort:                     8000,
		SecretsProvider:                config.ProviderEnv,
		BackendTimeout:                 time.Second,
		LocalCacheTTL:                  time.Minute,
		DistributedCacheTTL:            2 * time.Minute,
		SecondaryCacheEnabled:          true,
		CacheKeyPrefix:                 "secret:",
		EncryptionAlgorithm:            "aes-gcm",
		KeyStoreDriver:                 config.KeyStoreFile,
		KeyStorePath:                   filepath.Join(dir, "keys.json"),
		KeyBackupDir:                   filepath.Join(dir, "key_backups"),
		ExpiryDays:                     90,
		MaxKeys:                        5,
		BackupRetentionLimit:           5,
		RotationInterval:               time.Hour,
		MaxRetries:                     3,
		BackoffBase:                    10 * time.Millisecond,
		BackoffMax:                     time.Second,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerRecoveryTimeout:  time.Minute,
		CipherBreakerFailureThreshold:  3,
		CipherBreakerRecoveryTimeout:   2 * time.Minute,
		SMTPPort:                       587,
		AlertBatchThreshold:            10,
		AlertBatchInterval:             time.Minute,
		AlertMaxPerMinute:              5,
		MetricsNamespace:               "secretkeeper_test",
	}
}

func shutdown(t *testing.T, c *Container) {
	t.Helper()
	t.Cleanup(func() {
		assert.NoError(t, c.Shutdown(context.Background()))
	})
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t)
	container := NewContainer(cfg)
	shutdown(t, container)

	assert.Same(t, cfg, container.Config())
	assert.NotNil(t, container.Clock())
	assert.Nil(t, container.logger, "logger should be created lazily")
}

func TestContainer_Logger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		t.Run(level, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.LogLevel = level
			container := NewContainer(cfg)

			logger := container.Logger()
			require.NotNil(t, logger)
			assert.Same(t, logger, container.Logger())
		})
	}
}

func TestContainer_DBRequiresSQLDriver(t *testing.T) {
	container := NewContainer(testConfig(t))

	_, err := container.DB()
	require.Error(t, err)

	_, err = container.DB()
	require.Error(t, err, "initialization error should be remembered")
}

func TestContainer_Backend(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantName string
		wantErr  bool
	}{
		{name: "env", provider: config.ProviderEnv, wantName: "env"},
		{name: "file", provider: config.ProviderFile, wantName: "file"},
		{name: "unsupported", provider: "gcp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.SecretsProvider = tt.provider
			cfg.SecretsFilePath = filepath.Join(t.TempDir(), "secrets.yaml")

			backend, err := NewContainer(cfg).Backend()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
		})
	}
}

func TestContainer_EncryptionDisabled(t *testing.T) {
	container := NewContainer(testConfig(t))

	assert.False(t, container.EncryptionEnabled())
	_, err := container.EncryptionManager()
	assert.ErrorIs(t, err, ErrEncryptionDisabled)
}

func TestContainer_EncryptionManager(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = "correct horse battery staple"
	cfg.PreviousEncryptionKeys = []string{"old passphrase"}
	container := NewContainer(cfg)
	shutdown(t, container)

	encryption, err := container.EncryptionManager()
	require.NoError(t, err)

	keys := encryption.Keys()
	require.Len(t, keys, 2)
	assert.True(t, keys[0].Primary)
	assert.FileExists(t, cfg.KeyStorePath)
	assert.True(t, encryption.HealthCheck(context.Background()))
}

func TestContainer_TieredCacheWithRedis(t *testing.T) {
	server, _ := testutil.NewMiniRedis(t)
	cfg := testConfig(t)
	cfg.DistributedCacheURL = testutil.RedisURL(server)
	container := NewContainer(cfg)
	shutdown(t, container)

	tiered, err := container.TieredCache()
	require.NoError(t, err)
	require.NoError(t, tiered.Ping(context.Background()))

	require.NoError(t, tiered.Set(context.Background(), "API_KEY", []byte("value")))
	assert.Len(t, server.Keys(), 1)
}

func TestContainer_SecretsManager(t *testing.T) {
	t.Setenv("SECRETKEEPER_TEST_TOKEN", "s3cr3t")
	cfg := testConfig(t)
	cfg.EncryptionKey = "correct horse battery staple"
	container := NewContainer(cfg)
	shutdown(t, container)

	secretsManager, err := container.SecretsManager()
	require.NoError(t, err)

	secret, err := secretsManager.Get(context.Background(), "SECRETKEEPER_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret.String())

	token, err := secretsManager.Encrypt(context.Background(), []byte("sealed"))
	require.NoError(t, err)
	assert.Contains(t, token, "skv1.")

	report, err := secretsManager.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy, "%v", report.Components)
	assert.Equal(t, "disabled", report.Components["distributed-cache"])
}

func TestContainer_HTTPServer(t *testing.T) {
	container := NewContainer(testConfig(t))
	shutdown(t, container)

	server, err := container.HTTPServer()
	require.NoError(t, err)
	assert.NotNil(t, server.GetHandler())
}

func TestContainer_ShutdownWithoutComponents(t *testing.T) {
	container := NewContainer(testConfig(t))

	assert.NoError(t, container.Shutdown(context.Background()))
}
