package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// maxBackoffShift keeps BackoffBase << attempt from overflowing.
const maxBackoffShift = 30

// RetryPolicy controls backend retries.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffMax caps a single delay. Zero means uncapped.
	BackoffMax time.Duration
	// AttemptTimeout bounds each backend call. Zero means no timeout.
	AttemptTimeout time.Duration
}

// Attempts returns the total number of attempts, at least one.
func (p RetryPolicy) Attempts() int {
	return max(p.MaxRetries, 1)
}

// Delay returns the wait before retry number attempt, counting from zero:
// BackoffBase * 2^attempt, capped at BackoffMax.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BackoffBase << min(max(attempt, 0), maxBackoffShift)
	if p.BackoffMax > 0 && (delay > p.BackoffMax || delay < 0) {
		return p.BackoffMax
	}
	return delay
}

// ShouldRetry reports whether err is worth another attempt. Only transient
// failures are.
func (p RetryPolicy) ShouldRetry(err error) bool {
	return err != nil && secretsDomain.KindOf(err) == secretsDomain.KindTransient
}

// Run calls fn until it succeeds, fails with an error ShouldRetry rejects,
// runs out of attempts or ctx is done. notify, when set, is called before
// each retry with the failed attempt number and the upcoming delay. Run
// returns the number of attempts made and the last error from fn, wrapped
// with ErrMaxRetriesExceeded or the context error when those ended the loop.
func (p RetryPolicy) Run(
	ctx context.Context,
	clk clock.Clock,
	fn func() error,
	notify func(err error, attempt int, delay time.Duration),
) (int, error) {
	attempts := p.Attempts()

	var (
		attempted int
		lastErr   error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempted++
			lastErr = fn()
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return !p.ShouldRetry(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if notify != nil && attempt < attempts {
				notify(err, attempt, p.Delay(attempt-1))
			}
		},
		Attempts: attempts,
		// retry.Call rejects a zero Delay; BackoffFunc sets the real one.
		Delay: max(p.Delay(0), time.Nanosecond),
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return p.Delay(attempt - 1)
		},
		Clock: clk,
		Stop:  ctx.Done(),
	})

	switch {
	case err == nil:
		return attempted, nil
	case retry.IsAttemptsExceeded(err):
		return attempted, fmt.Errorf("%w after %d attempts: %w", secretsDomain.ErrMaxRetriesExceeded, attempted, lastErr)
	case retry.IsRetryStopped(err):
		return attempted, fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
	case lastErr != nil:
		return attempted, lastErr
	default:
		return attempted, err
	}
}
