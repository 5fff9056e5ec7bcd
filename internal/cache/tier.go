// Package cache implements the layered secret cache: a process-local tier,
// an optional distributed redis tier that stores sealed values, and a
// long-lived secondary fallback tier.
package cache

import (
	"context"
	"time"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// ErrCaching indicates no configured cache tier accepted an operation.
var ErrCaching = apperrors.Wrap(apperrors.ErrUnavailable, "cache unavailable")

// Tier names used in logs, alerts and metrics.
const (
	TierLocal       = "local"
	TierDistributed = "distributed"
	TierSecondary   = "secondary"
)

// Tier is a single key/value cache layer.
type Tier interface {
	Name() string
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
