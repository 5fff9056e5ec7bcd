// Package rotation runs the periodic refresh of configured secrets and the
// automatic rotation of encryption keys nearing expiry.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"

	"github.com/allisson/secretkeeper/internal/breaker"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// ErrAlreadyStarted is returned by Start when the loop is running or has been stopped.
var ErrAlreadyStarted = apperrors.Wrap(apperrors.ErrConflict, "rotator already started")

// RefreshAller refreshes a set of secrets.
type RefreshAller interface {
	RefreshAll(ctx context.Context, names []string) map[string]*secretsDomain.Secret
}

// KeyRotator rotates encryption keys nearing expiry and evicts expired ones.
type KeyRotator interface {
	AutoRotate(ctx context.Context) (bool, error)
	Prune(ctx context.Context) (int, error)
}

// Purger drops expired in-memory cache entries.
type Purger interface {
	Purge() int
}

// Alerter receives rotation failures.
type Alerter interface {
	Send(ctx context.Context, text string, metadata map[string]string)
}

// Config controls what is rotated and when.
type Config struct {
	// Names are the secrets refreshed on every run.
	Names []string
	// Interval is the period between runs.
	Interval time.Duration
	// Schedule, when set, replaces Interval.
	Schedule cron.Schedule
	// AutoRotateKeys enables key rotation on every run.
	AutoRotateKeys bool
}

// Result summarizes one run.
type Result struct {
	Refreshed  []string
	Failed     []string
	KeyRotated bool
	KeyErr     error
	KeysPruned int
	PruneErr   error
	Purged     int
}

// Rotator owns the rotation loop.
type Rotator struct {
	retriever RefreshAller
	keys      KeyRotator
	purger    Purger
	alerter   Alerter
	config    Config
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// defaultInterval applies when neither an interval nor a schedule is set.
const defaultInterval = 24 * time.Hour

// NewRotator creates a Rotator. keys, purger and alerter may be nil.
func NewRotator(
	retriever RefreshAller,
	keys KeyRotator,
	purger Purger,
	alerter Alerter,
	config Config,
	clk clock.Clock,
	logger *slog.Logger,
) *Rotator {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	return &Rotator{
		retriever: retriever,
		keys:      keys,
		purger:    purger,
		alerter:   alerter,
		config:    config,
		clock:     clk,
		logger:    logger,
	}
}

// Start runs one rotation immediately and then keeps rotating on the
// configured interval or schedule until ctx is done or Stop is called.
func (r *Rotator) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.started = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("starting secrets rotator",
		slog.Int("secrets", len(r.config.Names)),
		slog.Duration("interval", r.config.Interval),
		slog.Bool("scheduled", r.config.Schedule != nil),
	)
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for the current run to finish.
func (r *Rotator) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("secrets rotator stopped")
}

func (r *Rotator) loop(ctx context.Context) {
	defer close(r.done)

	r.RunOnce(ctx)

	timer := r.clock.NewTimer(r.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			r.RunOnce(ctx)
			timer.Reset(r.nextDelay())
		}
	}
}

// nextDelay returns the wait until the next run. A schedule that never fires
// again, as robfig/cron reports with a zero time, falls back to Interval.
func (r *Rotator) nextDelay() time.Duration {
	if r.config.Schedule != nil {
		now := r.clock.Now()
		if next := r.config.Schedule.Next(now); next.After(now) {
			return next.Sub(now)
		}
		r.logger.Warn("rotation schedule has no upcoming run, using interval",
			slog.Duration("interval", r.config.Interval),
		)
	}
	return r.config.Interval
}

// RunOnce refreshes every configured secret, rotates keys nearing expiry,
// evicts expired keys and purges expired cache entries. Failures are logged and alerted, never
// returned.
func (r *Rotator) RunOnce(ctx context.Context) Result {
	var result Result
	start := r.clock.Now()

	if len(r.config.Names) == 0 {
		r.logger.Warn("no secret names configured for rotation")
	} else {
		for name, secret := range r.retriever.RefreshAll(ctx, r.config.Names) {
			if secret == nil {
				result.Failed = append(result.Failed, name)
				continue
			}
			result.Refreshed = append(result.Refreshed, name)
		}
		slices.Sort(result.Refreshed)
		slices.Sort(result.Failed)
	}

	if len(result.Failed) > 0 {
		r.logger.Error("secret rotation failed", slog.Any("failed", result.Failed))
		r.alert(ctx,
			fmt.Sprintf("Secret rotation failed for %d secret(s): %s", len(result.Failed), strings.Join(result.Failed, ", ")),
			map[string]string{
				"dependency":   breaker.SecretStore,
				"error_kind":   "rotation",
				"failed_count": strconv.Itoa(len(result.Failed)),
			},
		)
	}

	if r.config.AutoRotateKeys && r.keys != nil {
		result.KeyRotated, result.KeyErr = r.keys.AutoRotate(ctx)
		switch {
		case result.KeyErr != nil:
			r.logger.Error("automatic key rotation failed", slog.Any("error", result.KeyErr))
			r.alert(ctx, fmt.Sprintf("Automatic key rotation failed: %v", result.KeyErr), map[string]string{
				"dependency": breaker.Cipher,
				"error_kind": "key_rotation",
			})
		case result.KeyRotated:
			r.logger.Info("encryption keys rotated")
		}
	}

	if r.keys != nil {
		result.KeysPruned, result.PruneErr = r.keys.Prune(ctx)
		if result.PruneErr != nil {
			r.logger.Error("pruning expired keys failed", slog.Any("error", result.PruneErr))
			r.alert(ctx, fmt.Sprintf("Pruning expired encryption keys failed: %v", result.PruneErr), map[string]string{
				"dependency": breaker.Cipher,
				"error_kind": "key_prune",
			})
		}
	}

	if r.purger != nil {
		result.Purged = r.purger.Purge()
	}

	r.logger.Info("rotation run completed",
		slog.Int("refreshed", len(result.Refreshed)),
		slog.Int("failed", len(result.Failed)),
		slog.Bool("key_rotated", result.KeyRotated),
		slog.Int("keys_pruned", result.KeysPruned),
		slog.Int("purged", result.Purged),
		slog.Duration("duration", r.clock.Now().Sub(start)),
	)
	return result
}

func (r *Rotator) alert(ctx context.Context, text string, metadata map[string]string) {
	if r.alerter != nil {
		r.alerter.Send(ctx, text, metadata)
	}
}
