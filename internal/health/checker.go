// Package health probes every dependency of the secrets manager concurrently
// and reports which ones are failing.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/secretkeeper/internal/breaker"
)

// Component names used in reports.
const (
	ComponentSecretStore      = breaker.SecretStore
	ComponentDistributedCache = breaker.DistributedCache
	ComponentCircuitBreakers  = "circuit-breakers"
	ComponentAlerting         = "alerting"
	ComponentCipher           = breaker.Cipher
)

// Component statuses.
const (
	StatusOK       = "ok"
	StatusDisabled = "disabled"
)

const defaultProbeTimeout = 5 * time.Second

// Pinger is implemented by the secret-store backend and the tiered cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerInspector lists the breakers currently open.
type BreakerInspector interface {
	OpenBreakers() []string
}

// AlertChecker sends a test alert through the configured channels.
type AlertChecker interface {
	Check(ctx context.Context) error
}

// CipherChecker runs an encrypt/decrypt round trip.
type CipherChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Alerter receives health failures.
type Alerter interface {
	Send(ctx context.Context, text string, metadata map[string]string)
}

// Components are the probed dependencies. Nil components are reported as disabled.
type Components struct {
	SecretStore      Pinger
	DistributedCache Pinger
	Breakers         BreakerInspector
	Alerting         AlertChecker
	Cipher           CipherChecker
}

// Report is the outcome of one Check.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Failing    []string          `json:"failing,omitempty"`
	Components map[string]string `json:"components"`
}

// Checker runs health probes.
type Checker struct {
	components Components
	alerter    Alerter
	timeout    time.Duration
	logger     *slog.Logger
}

// NewChecker creates a Checker. Each probe is bounded by timeout; zero uses a
// five second default.
func NewChecker(components Components, alerter Alerter, timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Checker{
		components: components,
		alerter:    alerter,
		timeout:    timeout,
		logger:     logger,
	}
}

type probe struct {
	name string
	run  func(ctx context.Context) error
}

func (c *Checker) probes() []probe {
	var probes []probe
	add := func(name string, enabled bool, run func(ctx context.Context) error) {
		if !enabled {
			run = nil
		}
		probes = append(probes, probe{name: name, run: run})
	}

	comps := c.components
	add(ComponentSecretStore, comps.SecretStore != nil, func(ctx context.Context) error {
		return comps.SecretStore.Ping(ctx)
	})
	add(ComponentDistributedCache, comps.DistributedCache != nil, func(ctx context.Context) error {
		return comps.DistributedCache.Ping(ctx)
	})
	add(ComponentCircuitBreakers, comps.Breakers != nil, func(context.Context) error {
		if open := comps.Breakers.OpenBreakers(); len(open) > 0 {
			return fmt.Errorf("open breakers: %s", strings.Join(open, ", "))
		}
		return nil
	})
	add(ComponentAlerting, comps.Alerting != nil, func(ctx context.Context) error {
		return comps.Alerting.Check(ctx)
	})
	add(ComponentCipher, comps.Cipher != nil, func(ctx context.Context) error {
		if !comps.Cipher.HealthCheck(ctx) {
			return errors.New("encryption round trip failed")
		}
		return nil
	})
	return probes
}

// Check runs every probe concurrently. When any probe fails, one alert
// listing the failing components is sent.
func (c *Checker) Check(ctx context.Context) Report {
	probes := c.probes()
	report := Report{Components: make(map[string]string, len(probes))}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, p := range probes {
		if p.run == nil {
			mu.Lock()
			report.Components[p.name] = StatusDisabled
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			status := StatusOK
			if err := p.run(probeCtx); err != nil {
				status = "error: " + err.Error()
				c.logger.Warn("health probe failed", slog.String("component", p.name), slog.Any("error", err))
			}

			mu.Lock()
			report.Components[p.name] = status
			if status != StatusOK {
				report.Failing = append(report.Failing, p.name)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(report.Failing)
	report.Healthy = len(report.Failing) == 0

	if !report.Healthy && c.alerter != nil {
		c.alerter.Send(ctx, "Health check failed: "+strings.Join(report.Failing, ", "), map[string]string{
			"error_kind": "health",
			"failing":    strings.Join(report.Failing, ","),
		})
	}
	return report
}
