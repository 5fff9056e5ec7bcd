package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BreakerMetrics records circuit breaker state transitions.
type BreakerMetrics interface {
	// RecordTransition counts a transition of the named breaker between two states.
	RecordTransition(ctx context.Context, breaker, from, to string)
}

type breakerMetrics struct {
	tripCounter  metric.Int64Counter
	resetCounter metric.Int64Counter
}

// NewBreakerMetrics creates BreakerMetrics backed by the given meter provider.
// Transitions into "open" count as trips and transitions into "closed" as resets.
func NewBreakerMetrics(meterProvider metric.MeterProvider, namespace string) (BreakerMetrics, error) {
	meter := meterProvider.Meter(namespace)

	tripCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_circuit_breaker_trips_total", namespace),
		metric.WithDescription("Total number of circuit breaker trips"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker trip counter: %w", err)
	}

	resetCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_circuit_breaker_resets_total", namespace),
		metric.WithDescription("Total number of circuit breaker resets"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker reset counter: %w", err)
	}

	return &breakerMetrics{tripCounter: tripCounter, resetCounter: resetCounter}, nil
}

func (b *breakerMetrics) RecordTransition(ctx context.Context, breaker, from, to string) {
	attrs := metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
	)
	switch to {
	case "open":
		b.tripCounter.Add(ctx, 1, attrs)
	case "closed":
		b.resetCounter.Add(ctx, 1, attrs)
	}
}

// NoOpBreakerMetrics discards breaker metrics.
type NoOpBreakerMetrics struct{}

// NewNoOpBreakerMetrics creates a no-op BreakerMetrics implementation.
func NewNoOpBreakerMetrics() BreakerMetrics {
	return &NoOpBreakerMetrics{}
}

// RecordTransition does nothing when metrics are disabled.
func (n *NoOpBreakerMetrics) RecordTransition(ctx context.Context, breaker, from, to string) {}
