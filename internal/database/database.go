// Package database opens the SQL connection used by the postgres and mysql
// key stores and manages their transactions.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Drivers lists the database/sql drivers a key store can run on.
var Drivers = []string{"postgres", "mysql"}

const defaultPingTimeout = 5 * time.Second

// Config holds the key store connection and pool settings.
type Config struct {
	Driver             string
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	// PingTimeout bounds the startup ping. Zero means five seconds.
	PingTimeout time.Duration
}

// Connect opens a pool for a key store and pings it before returning. A pool
// that cannot be reached is closed again.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if !slices.Contains(Drivers, cfg.Driver) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "unsupported key store database %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s key store database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apperrors.Join(
			apperrors.ErrUnavailable,
			fmt.Errorf("failed to ping %s key store database: %w", cfg.Driver, err),
		)
	}
	return db, nil
}
