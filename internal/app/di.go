// Package app provides the dependency injection container that assembles the
// secrets manager from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/juju/clock"

	"github.com/allisson/secretkeeper/internal/alerting"
	"github.com/allisson/secretkeeper/internal/breaker"
	"github.com/allisson/secretkeeper/internal/cache"
	"github.com/allisson/secretkeeper/internal/config"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoUsecase "github.com/allisson/secretkeeper/internal/crypto/usecase"
	"github.com/allisson/secretkeeper/internal/database"
	"github.com/allisson/secretkeeper/internal/health"
	"github.com/allisson/secretkeeper/internal/http"
	"github.com/allisson/secretkeeper/internal/manager"
	"github.com/allisson/secretkeeper/internal/metrics"
	"github.com/allisson/secretkeeper/internal/rotation"
	secretsUsecase "github.com/allisson/secretkeeper/internal/secrets/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// Components are created on first access.
type Container struct {
	config *config.Config
	clock  clock.Clock

	// ctx bounds background helpers such as the rate limiter sweep.
	ctx    context.Context
	cancel context.CancelFunc

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	txManager       database.TxManager
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	cacheMetrics    metrics.CacheMetrics
	breakerMetrics  metrics.BreakerMetrics

	// Crypto
	keyWrapper        cryptoDomain.KeyWrapper
	keyStore          cryptoUsecase.KeyStore
	encryptionManager cryptoUsecase.EncryptionManager

	// Secrets
	breakers   *breaker.Registry
	alerter    *alerting.Alerter
	backend    secretsUsecase.Backend
	cache      *cache.TieredCache
	retriever  secretsUsecase.SecretRetriever
	rotator    *rotation.Rotator
	checker    *health.Checker
	manager    *manager.Manager
	httpServer *http.Server

	mu                    sync.Mutex
	loggerInit            sync.Once
	dbInit                sync.Once
	txManagerInit         sync.Once
	metricsProviderInit   sync.Once
	businessMetricsInit   sync.Once
	cacheMetricsInit      sync.Once
	breakerMetricsInit    sync.Once
	keyWrapperInit        sync.Once
	keyStoreInit          sync.Once
	encryptionManagerInit sync.Once
	breakersInit          sync.Once
	alerterInit           sync.Once
	backendInit           sync.Once
	cacheInit             sync.Once
	retrieverInit         sync.Once
	rotatorInit           sync.Once
	checkerInit           sync.Once
	managerInit           sync.Once
	httpServerInit        sync.Once
	initErrors            map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	ctx, cancel := context.WithCancel(context.Background())
	return &Container{
		config:     cfg,
		clock:      clock.WallClock,
		ctx:        ctx,
		cancel:     cancel,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Clock returns the time source shared by every component.
func (c *Container) Clock() clock.Clock {
	return c.clock
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the key store database connection.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = c.initMetricsProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the operation metrics recorder.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// CacheMetrics returns the cache hit/miss recorder.
func (c *Container) CacheMetrics() (metrics.CacheMetrics, error) {
	var err error
	c.cacheMetricsInit.Do(func() {
		c.cacheMetrics, err = c.initCacheMetrics()
		if err != nil {
			c.initErrors["cacheMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["cacheMetrics"]; exists {
		return nil, storedErr
	}
	return c.cacheMetrics, nil
}

// BreakerMetrics returns the circuit breaker transition recorder.
func (c *Container) BreakerMetrics() (metrics.BreakerMetrics, error) {
	var err error
	c.breakerMetricsInit.Do(func() {
		c.breakerMetrics, err = c.initBreakerMetrics()
		if err != nil {
			c.initErrors["breakerMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["breakerMetrics"]; exists {
		return nil, storedErr
	}
	return c.breakerMetrics, nil
}

// Shutdown releases every initialized resource. The manager owns the cache,
// the alerter, the rotator and the key material, so closing it covers those.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cancel()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.manager != nil {
		if err := c.manager.Close(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("secrets manager close: %w", err))
		}
	} else {
		if c.cache != nil {
			if err := c.cache.Close(); err != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("cache close: %w", err))
			}
		}
		if c.encryptionManager != nil {
			c.encryptionManager.Close()
		}
	}

	if c.keyWrapper != nil {
		if err := c.keyWrapper.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("key wrapper close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}
	return nil
}

// initLogger creates a JSON logger at the configured level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// initDB connects to the SQL key store.
func (c *Container) initDB() (*sql.DB, error) {
	driver := c.config.DBDriver()
	if driver == "" {
		return nil, fmt.Errorf("key store driver %q does not use a database", c.config.KeyStoreDriver)
	}

	db, err := database.Connect(context.Background(), database.Config{
		Driver:             driver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}
	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

func (c *Container) initCacheMetrics() (metrics.CacheMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpCacheMetrics(), nil
	}
	return metrics.NewCacheMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

func (c *Container) initBreakerMetrics() (metrics.BreakerMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpBreakerMetrics(), nil
	}
	return metrics.NewBreakerMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}
