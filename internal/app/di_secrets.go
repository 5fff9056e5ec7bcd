package app

import (
	"context"
	"fmt"

	"github.com/allisson/secretkeeper/internal/alerting"
	"github.com/allisson/secretkeeper/internal/breaker"
	"github.com/allisson/secretkeeper/internal/cache"
	"github.com/allisson/secretkeeper/internal/config"
	"github.com/allisson/secretkeeper/internal/health"
	"github.com/allisson/secretkeeper/internal/http"
	"github.com/allisson/secretkeeper/internal/manager"
	"github.com/allisson/secretkeeper/internal/rotation"
	"github.com/allisson/secretkeeper/internal/secrets/backend"
	secretsUsecase "github.com/allisson/secretkeeper/internal/secrets/usecase"
	appValidation "github.com/allisson/secretkeeper/internal/validation"
)

// Breakers returns the circuit breaker registry. The cipher breaker has its
// own threshold and recovery timeout.
func (c *Container) Breakers() *breaker.Registry {
	c.breakersInit.Do(func() {
		c.breakers = breaker.NewRegistry(
			breaker.Config{
				FailureThreshold: c.config.CircuitBreakerFailureThreshold,
				RecoveryTimeout:  c.config.CircuitBreakerRecoveryTimeout,
			},
			c.clock,
			breaker.WithBreaker(breaker.Cipher, breaker.Config{
				FailureThreshold: c.config.CipherBreakerFailureThreshold,
				RecoveryTimeout:  c.config.CipherBreakerRecoveryTimeout,
			}),
		)
	})
	return c.breakers
}

// Alerter returns the alerter fanning out to every configured channel.
func (c *Container) Alerter() *alerting.Alerter {
	c.alerterInit.Do(func() {
		c.alerter = c.initAlerter()
	})
	return c.alerter
}

// Backend returns the secret-store backend selected by SECRETS_PROVIDER.
func (c *Container) Backend() (secretsUsecase.Backend, error) {
	var err error
	c.backendInit.Do(func() {
		c.backend, err = c.initBackend()
		if err != nil {
			c.initErrors["backend"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["backend"]; exists {
		return nil, storedErr
	}
	return c.backend, nil
}

// TieredCache returns the local → distributed → secondary cache.
func (c *Container) TieredCache() (*cache.TieredCache, error) {
	var err error
	c.cacheInit.Do(func() {
		c.cache, err = c.initTieredCache()
		if err != nil {
			c.initErrors["cache"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["cache"]; exists {
		return nil, storedErr
	}
	return c.cache, nil
}

// SecretRetriever returns the retriever wrapped with metrics.
func (c *Container) SecretRetriever() (secretsUsecase.SecretRetriever, error) {
	var err error
	c.retrieverInit.Do(func() {
		c.retriever, err = c.initSecretRetriever()
		if err != nil {
			c.initErrors["retriever"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retriever"]; exists {
		return nil, storedErr
	}
	return c.retriever, nil
}

// Rotator returns the background rotation loop.
func (c *Container) Rotator() (*rotation.Rotator, error) {
	var err error
	c.rotatorInit.Do(func() {
		c.rotator, err = c.initRotator()
		if err != nil {
			c.initErrors["rotator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["rotator"]; exists {
		return nil, storedErr
	}
	return c.rotator, nil
}

// HealthChecker returns the dependency health checker.
func (c *Container) HealthChecker() (*health.Checker, error) {
	var err error
	c.checkerInit.Do(func() {
		c.checker, err = c.initHealthChecker()
		if err != nil {
			c.initErrors["checker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["checker"]; exists {
		return nil, storedErr
	}
	return c.checker, nil
}

// SecretsManager returns the fully wired secrets manager. It is not started.
func (c *Container) SecretsManager() (*manager.Manager, error) {
	var err error
	c.managerInit.Do(func() {
		c.manager, err = c.initSecretsManager()
		if err != nil {
			c.initErrors["manager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["manager"]; exists {
		return nil, storedErr
	}
	return c.manager, nil
}

// HTTPServer returns the operations server with its router set up.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// initAlerter creates one email channel for all recipients and one channel
// per Slack or webhook URL.
func (c *Container) initAlerter() *alerting.Alerter {
	var channels []alerting.Channel
	if len(c.config.AlertEmails) > 0 {
		channels = append(channels, alerting.NewEmailChannel(alerting.SMTPConfig{
			Host:     c.config.SMTPHost,
			Port:     c.config.SMTPPort,
			Username: c.config.SMTPUsername,
			Password: c.config.SMTPPassword,
			From:     c.config.SMTPFromEmail,
		}, c.config.AlertEmails))
	}
	for _, url := range c.config.SlackWebhooks {
		channels = append(channels, alerting.NewSlackChannel(url))
	}
	for _, url := range c.config.WebhookURLs {
		channels = append(channels, alerting.NewWebhookChannel(url))
	}

	alertConfig := alerting.DefaultConfig()
	alertConfig.BatchThreshold = c.config.AlertBatchThreshold
	alertConfig.BatchInterval = c.config.AlertBatchInterval
	alertConfig.MaxPerMinute = c.config.AlertMaxPerMinute

	return alerting.NewAlerter(channels, alertConfig, c.clock, c.Logger())
}

// initBackend creates the backend for the configured provider.
func (c *Container) initBackend() (secretsUsecase.Backend, error) {
	awsConfig := backend.AWSConfig{
		Region:   c.config.BackendRegion,
		Endpoint: c.config.BackendEndpoint,
		Options:  c.config.VendorOptions,
	}

	switch c.config.SecretsProvider {
	case config.ProviderAWS:
		return backend.NewAWSSecretsManagerBackend(context.Background(), awsConfig)
	case config.ProviderSSM:
		return backend.NewAWSSSMBackend(context.Background(), awsConfig)
	case config.ProviderVault:
		return backend.NewVaultBackend(backend.VaultConfig{
			Address:   c.config.VaultAddress,
			Token:     c.config.VaultToken,
			MountPath: c.config.VaultMountPath,
			Timeout:   c.config.BackendTimeout,
		})
	case config.ProviderEnv:
		return backend.NewEnvBackend(nil), nil
	case config.ProviderFile:
		return backend.NewFileBackend(c.config.SecretsFilePath), nil
	default:
		return nil, fmt.Errorf("unsupported secrets provider: %s", c.config.SecretsProvider)
	}
}

// initTieredCache opens the redis tier when configured. Values stored there
// are sealed when encryption is enabled.
func (c *Container) initTieredCache() (*cache.TieredCache, error) {
	var distributed cache.Tier
	if c.config.DistributedCacheURL != "" {
		tier, err := cache.OpenRedisTier(c.config.DistributedCacheURL, c.config.CacheKeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open distributed cache: %w", err)
		}
		distributed = tier
	}

	var secondary cache.Tier
	if c.config.SecondaryCacheEnabled {
		secondary = cache.NewMemoryTier("secondary", c.clock)
	}

	cacheMetrics, err := c.CacheMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache metrics: %w", err)
	}

	options := []cache.Option{
		cache.WithBreaker(c.Breakers()),
		cache.WithAlerter(c.Alerter()),
		cache.WithMetrics(cacheMetrics),
	}
	if c.EncryptionEnabled() {
		encryption, err := c.EncryptionManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get encryption manager for cache: %w", err)
		}
		options = append(options, cache.WithSealer(encryption))
	}

	return cache.NewTieredCache(
		cache.NewMemoryTier("local", c.clock),
		distributed,
		secondary,
		c.Logger(),
		cache.Options{
			LocalTTL:       c.config.LocalCacheTTL,
			DistributedTTL: c.config.DistributedCacheTTL,
			SecondaryTTL:   c.config.SecondaryCacheTTL,
		},
		options...,
	), nil
}

// initSecretRetriever creates the retriever over the backend and the cache.
func (c *Container) initSecretRetriever() (secretsUsecase.SecretRetriever, error) {
	secretBackend, err := c.Backend()
	if err != nil {
		return nil, fmt.Errorf("failed to get backend for secret retriever: %w", err)
	}

	tiered, err := c.TieredCache()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache for secret retriever: %w", err)
	}

	var decrypter secretsUsecase.Decrypter
	if c.EncryptionEnabled() {
		encryption, err := c.EncryptionManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get encryption manager for secret retriever: %w", err)
		}
		decrypter = encryption
	}

	retriever := secretsUsecase.NewSecretRetriever(
		secretBackend,
		tiered,
		decrypter,
		c.Breakers(),
		c.Alerter(),
		secretsUsecase.RetryPolicy{
			MaxRetries:     c.config.MaxRetries,
			BackoffBase:    c.config.BackoffBase,
			BackoffMax:     c.config.BackoffMax,
			AttemptTimeout: c.config.BackendTimeout,
		},
		c.clock,
		c.Logger(),
	)

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for secret retriever: %w", err)
	}
	return secretsUsecase.NewSecretRetrieverWithMetrics(retriever, businessMetrics), nil
}

// initRotator creates the rotation loop. ROTATION_SCHEDULE takes precedence
// over ROTATION_INTERVAL.
func (c *Container) initRotator() (*rotation.Rotator, error) {
	retriever, err := c.SecretRetriever()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret retriever for rotator: %w", err)
	}

	tiered, err := c.TieredCache()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache for rotator: %w", err)
	}

	rotationConfig := rotation.Config{
		Names:          c.config.SecretNames,
		Interval:       c.config.RotationInterval,
		AutoRotateKeys: c.config.AutoKeyRotation,
	}
	if c.config.RotationSchedule != "" {
		rotationConfig.Schedule, err = appValidation.ParseCron(c.config.RotationSchedule)
		if err != nil {
			return nil, err
		}
	}

	var keys rotation.KeyRotator
	if c.EncryptionEnabled() {
		encryption, err := c.EncryptionManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get encryption manager for rotator: %w", err)
		}
		keys = encryption
	}

	return rotation.NewRotator(retriever, keys, tiered, c.Alerter(), rotationConfig, c.clock, c.Logger()), nil
}

// initHealthChecker probes the backend, the distributed tier (when
// configured), the breakers, alerting and the cipher (when enabled).
func (c *Container) initHealthChecker() (*health.Checker, error) {
	secretBackend, err := c.Backend()
	if err != nil {
		return nil, fmt.Errorf("failed to get backend for health checker: %w", err)
	}

	components := health.Components{
		SecretStore: secretBackend,
		Breakers:    c.Breakers(),
		Alerting:    c.Alerter(),
	}
	if c.config.DistributedCacheURL != "" {
		tiered, err := c.TieredCache()
		if err != nil {
			return nil, fmt.Errorf("failed to get cache for health checker: %w", err)
		}
		components.DistributedCache = tiered
	}
	if c.EncryptionEnabled() {
		encryption, err := c.EncryptionManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get encryption manager for health checker: %w", err)
		}
		components.Cipher = encryption
	}

	return health.NewChecker(components, c.Alerter(), c.config.BackendTimeout, c.Logger()), nil
}

// initSecretsManager assembles the manager from every component.
func (c *Container) initSecretsManager() (*manager.Manager, error) {
	retriever, err := c.SecretRetriever()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret retriever for secrets manager: %w", err)
	}
	tiered, err := c.TieredCache()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache for secrets manager: %w", err)
	}
	rotator, err := c.Rotator()
	if err != nil {
		return nil, fmt.Errorf("failed to get rotator for secrets manager: %w", err)
	}
	checker, err := c.HealthChecker()
	if err != nil {
		return nil, fmt.Errorf("failed to get health checker for secrets manager: %w", err)
	}
	breakerMetrics, err := c.BreakerMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get breaker metrics for secrets manager: %w", err)
	}

	deps := manager.Deps{
		Retriever:      retriever,
		Cache:          tiered,
		Breakers:       c.Breakers(),
		Alerter:        c.Alerter(),
		Rotator:        rotator,
		Health:         checker,
		BreakerMetrics: breakerMetrics,
		Logger:         c.Logger(),
	}
	if c.EncryptionEnabled() {
		encryption, err := c.EncryptionManager()
		if err != nil {
			return nil, fmt.Errorf("failed to get encryption manager for secrets manager: %w", err)
		}
		deps.Keys = encryption
	}

	return manager.New(deps, manager.Options{
		SecretNames:     c.config.SecretNames,
		RotationEnabled: len(c.config.SecretNames) > 0 || c.config.AutoKeyRotation,
	}), nil
}

// initHTTPServer creates the operations server in front of the manager.
func (c *Container) initHTTPServer() (*http.Server, error) {
	secretsManager, err := c.SecretsManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get secrets manager for http server: %w", err)
	}
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	server := http.NewServer(secretsManager, c.config.ServerHost, c.config.ServerPort, c.Logger())
	server.SetupRouter(c.ctx, http.RouterConfig{
		MetricsProvider:         provider,
		MetricsNamespace:        c.config.MetricsNamespace,
		RateLimitEnabled:        c.config.RateLimitEnabled,
		RateLimitRequestsPerSec: c.config.RateLimitRequestsPerSec,
		RateLimitBurst:          c.config.RateLimitBurst,
		CORSEnabled:             c.config.CORSEnabled,
		CORSAllowOrigins:        c.config.CORSAllowOrigins,
	})
	return server, nil
}
