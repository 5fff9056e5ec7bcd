// Package alerting batches operational alerts and fans them out to email,
// Slack and generic webhook channels under a rolling rate limit.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// ErrAlerterClosed is returned by Check after Close.
var ErrAlerterClosed = apperrors.Wrap(apperrors.ErrUnavailable, "alerter is closed")

const (
	batchSeparator = "\n---\n"
	rateWindow     = time.Minute
)

// HealthCheckMessage is the test alert Check delivers to every channel.
const HealthCheckMessage = "Health check: Alerting system test."

// Config controls batching and rate limiting.
type Config struct {
	// BatchThreshold flushes the queue as soon as it holds this many messages.
	BatchThreshold int
	// BatchInterval flushes whatever is queued at this period.
	BatchInterval time.Duration
	// MaxPerMinute caps delivered batches in any rolling minute.
	MaxPerMinute int
	// MaxQueue bounds the queue; the oldest messages are dropped beyond it.
	MaxQueue int
}

// DefaultConfig returns the stock batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchThreshold: 10,
		BatchInterval:  60 * time.Second,
		MaxPerMinute:   5,
		MaxQueue:       1000,
	}
}

// Alerter queues alerts and delivers them in batches. Send never blocks on
// delivery and never fails; Start runs the flush loop.
type Alerter struct {
	channels []Channel
	config   Config
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []string
	sent    []time.Time // delivery times inside the rolling window
	closed  bool
	started bool
	stop    chan struct{}
	done    chan struct{}

	flushMu  sync.Mutex
	wake     chan struct{}
	dropWarn rate.Sometimes

	checkMu   sync.Mutex
	checkedAt time.Time
	checkErr  error
}

// NewAlerter creates an Alerter. Zero config values fall back to DefaultConfig.
func NewAlerter(channels []Channel, config Config, clk clock.Clock, logger *slog.Logger) *Alerter {
	defaults := DefaultConfig()
	if config.BatchThreshold <= 0 {
		config.BatchThreshold = defaults.BatchThreshold
	}
	if config.BatchInterval <= 0 {
		config.BatchInterval = defaults.BatchInterval
	}
	if config.MaxPerMinute <= 0 {
		config.MaxPerMinute = defaults.MaxPerMinute
	}
	if config.MaxQueue <= 0 {
		config.MaxQueue = defaults.MaxQueue
	}
	return &Alerter{
		channels: channels,
		config:   config,
		clock:    clk,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
		dropWarn: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Format renders text with its metadata appended as sorted k=v pairs.
func Format(text string, metadata map[string]string) string {
	if len(metadata) == 0 {
		return text
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + metadata[k]
	}
	return text + "\nMetadata: " + strings.Join(pairs, ", ")
}

// Send queues an alert.
func (a *Alerter) Send(_ context.Context, text string, metadata map[string]string) {
	msg := Format(text, metadata)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("alert dropped, alerter closed", slog.String("alert", text))
		return
	}
	a.queue = append(a.queue, msg)
	overflow := len(a.queue) - a.config.MaxQueue
	if overflow > 0 {
		a.queue = slices.Delete(a.queue, 0, overflow)
	}
	full := len(a.queue) >= a.config.BatchThreshold
	a.mu.Unlock()

	if overflow > 0 {
		a.logger.Warn("alert queue full, dropped oldest alerts", slog.Int("dropped", overflow))
	}
	if full {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Start runs the flush loop until ctx is done or Close is called. It is a
// no-op after the first call.
func (a *Alerter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	go a.run(ctx)
}

func (a *Alerter) run(ctx context.Context) {
	defer close(a.done)

	timer := a.clock.NewTimer(a.config.BatchInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-a.wake:
			a.Flush(ctx)
		case <-timer.Chan():
			a.Flush(ctx)
			timer.Reset(a.config.BatchInterval)
		}
	}
}

// Flush delivers everything queued as one batch, unless the rolling window
// is exhausted, in which case the batch is dropped.
func (a *Alerter) Flush(ctx context.Context) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return
	}
	count := len(a.queue)
	batch := strings.Join(a.queue, batchSeparator)
	a.queue = nil

	if !a.reserveLocked() {
		a.mu.Unlock()
		a.dropWarn.Do(func() {
			a.logger.Warn("alert rate limit exceeded, batch dropped",
				slog.Int("alerts", count),
				slog.Int("max_per_minute", a.config.MaxPerMinute),
			)
		})
		return
	}
	a.mu.Unlock()

	_ = a.deliver(ctx, batch)
}

// reserveLocked takes a slot in the rolling window, reporting false when
// MaxPerMinute deliveries already happened in the last minute. a.mu must be
// held.
func (a *Alerter) reserveLocked() bool {
	now := a.clock.Now()
	cutoff := now.Add(-rateWindow)
	a.sent = slices.DeleteFunc(a.sent, func(t time.Time) bool { return !t.After(cutoff) })
	if len(a.sent) >= a.config.MaxPerMinute {
		return false
	}
	a.sent = append(a.sent, now)
	return true
}

// deliver sends text to every channel concurrently and returns the joined
// channel failures.
func (a *Alerter) deliver(ctx context.Context, text string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range a.channels {
		wg.Go(func() {
			if err := ch.Send(ctx, text); err != nil {
				a.logger.Error("alert channel failed",
					slog.String("channel", ch.Name()),
					slog.Any("error", err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return apperrors.Join(errs...)
}

// Check is the health probe. It delivers HealthCheckMessage straight to every
// channel and returns the joined channel failures. The result is reused for
// a minute so polling stays within the rolling window, and the test send is
// skipped when the window is already full. Check fails with ErrAlerterClosed
// after Close.
func (a *Alerter) Check(ctx context.Context) error {
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAlerterClosed
	}
	now := a.clock.Now()
	if !a.checkedAt.IsZero() && now.Sub(a.checkedAt) < rateWindow {
		a.mu.Unlock()
		return a.checkErr
	}
	if len(a.channels) == 0 {
		a.mu.Unlock()
		return nil
	}
	if !a.reserveLocked() {
		a.mu.Unlock()
		a.logger.Debug("alert rate limit reached, skipping test alert")
		return nil
	}
	a.mu.Unlock()

	err := a.deliver(ctx, HealthCheckMessage)
	a.checkedAt, a.checkErr = now, err
	return err
}

// Close stops the flush loop and flushes what remains. Later calls are no-ops.
func (a *Alerter) Close(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	close(a.stop)
	if started {
		<-a.done
	}
	a.Flush(ctx)
}

// Pending returns the number of queued alerts.
func (a *Alerter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

