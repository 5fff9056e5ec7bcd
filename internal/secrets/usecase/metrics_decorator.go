package usecase

import (
	"context"
	"time"

	"github.com/allisson/secretkeeper/internal/metrics"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// secretRetrieverWithMetrics decorates SecretRetriever with metrics instrumentation.
type secretRetrieverWithMetrics struct {
	next    SecretRetriever
	metrics metrics.BusinessMetrics
}

// NewSecretRetrieverWithMetrics wraps a SecretRetriever with metrics recording.
func NewSecretRetrieverWithMetrics(retriever SecretRetriever, m metrics.BusinessMetrics) SecretRetriever {
	return &secretRetrieverWithMetrics{
		next:    retriever,
		metrics: m,
	}
}

func (s *secretRetrieverWithMetrics) record(ctx context.Context, operation string, start time.Time, failed bool) {
	metrics.Observe(ctx, s.metrics, "secrets", operation, start, failed)
}

// Get records metrics for secret retrieval operations.
func (s *secretRetrieverWithMetrics) Get(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	start := time.Now()
	secret, err := s.next.Get(ctx, name)
	s.record(ctx, "secret_get", start, err != nil)
	return secret, err
}

// Refresh records metrics for forced refreshes.
func (s *secretRetrieverWithMetrics) Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	start := time.Now()
	secret, err := s.next.Refresh(ctx, name)
	s.record(ctx, "secret_refresh", start, err != nil)
	return secret, err
}

// RefreshAll records one operation per batch; it fails when any name failed.
func (s *secretRetrieverWithMetrics) RefreshAll(
	ctx context.Context,
	names []string,
) map[string]*secretsDomain.Secret {
	start := time.Now()
	results := s.next.RefreshAll(ctx, names)

	failed := false
	for _, secret := range results {
		if secret == nil {
			failed = true
			break
		}
	}
	s.record(ctx, "secret_refresh_all", start, failed)
	return results
}
