package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

func newTestRegistry(opts ...Option) (*Registry, *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	return NewRegistry(cfg, clk, opts...), clk
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	r, _ := newTestRegistry()

	assert.Equal(t, Closed, r.RecordFailure(SecretStore))
	assert.Equal(t, Closed, r.RecordFailure(SecretStore))
	require.NoError(t, r.Allow(SecretStore))
	assert.Equal(t, Open, r.RecordFailure(SecretStore))

	err := r.Allow(SecretStore)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))
	assert.Contains(t, err.Error(), SecretStore)
	assert.Equal(t, []string{SecretStore}, r.OpenBreakers())
}

func TestRegistry_SuccessClearsConsecutiveFailures(t *testing.T) {
	r, _ := newTestRegistry()

	r.RecordFailure(SecretStore)
	r.RecordFailure(SecretStore)
	r.RecordSuccess(SecretStore)
	r.RecordFailure(SecretStore)
	r.RecordFailure(SecretStore)

	assert.Equal(t, Closed, r.State(SecretStore))
	assert.Equal(t, 2, r.Stats(SecretStore).Failures)
}

func TestRegistry_RecoveryCycle(t *testing.T) {
	r, clk := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure(Cipher)
	}

	clk.Advance(59 * time.Second)
	assert.ErrorIs(t, r.Allow(Cipher), ErrCircuitOpen, "still cooling down")
	assert.Equal(t, Open, r.State(Cipher))

	clk.Advance(time.Second)
	assert.Equal(t, HalfOpen, r.State(Cipher))
	require.NoError(t, r.Allow(Cipher), "one trial allowed")
	assert.ErrorIs(t, r.Allow(Cipher), ErrCircuitOpen, "only one trial in flight")

	t.Run("trial failure reopens and restarts timeout", func(t *testing.T) {
		assert.Equal(t, Open, r.RecordFailure(Cipher))
		clk.Advance(30 * time.Second)
		assert.ErrorIs(t, r.Allow(Cipher), ErrCircuitOpen)
		clk.Advance(30 * time.Second)
		require.NoError(t, r.Allow(Cipher))
	})

	t.Run("trial success closes and resets failures", func(t *testing.T) {
		r.RecordSuccess(Cipher)
		assert.Equal(t, Closed, r.State(Cipher))
		assert.Equal(t, 0, r.Stats(Cipher).Failures)
		assert.Empty(t, r.OpenBreakers())
	})
}

func TestRegistry_PerBreakerConfig(t *testing.T) {
	r, _ := newTestRegistry(WithBreaker(Cipher, Config{FailureThreshold: 1, RecoveryTimeout: 2 * time.Minute}))

	assert.Equal(t, Open, r.RecordFailure(Cipher))
	assert.Equal(t, Closed, r.RecordFailure(DistributedCache))

	stats := r.Stats(Cipher)
	assert.Equal(t, 1, stats.FailureThreshold)
	assert.Equal(t, 2*time.Minute, stats.RecoveryTimeout)
	assert.Equal(t, []string{Cipher, DistributedCache}, r.Names())
}

func TestRegistry_Execute(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	boom := errors.New("boom")

	calls := 0
	fail := func(context.Context) error {
		calls++
		return boom
	}

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, r.Execute(ctx, SecretStore, fail), boom)
	}
	assert.ErrorIs(t, r.Execute(ctx, SecretStore, fail), ErrCircuitOpen)
	assert.Equal(t, 3, calls, "open breaker does not invoke the dependency")

	t.Run("cancellation is not a failure", func(t *testing.T) {
		r, _ := newTestRegistry()
		for i := 0; i < 5; i++ {
			_ = r.Execute(ctx, SecretStore, func(context.Context) error { return context.Canceled })
		}
		assert.Equal(t, Closed, r.State(SecretStore))
	})

	t.Run("success", func(t *testing.T) {
		r, _ := newTestRegistry()
		assert.NoError(t, r.Execute(ctx, SecretStore, func(context.Context) error { return nil }))
	})
}

func TestRegistry_Listeners(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	r, clk := newTestRegistry(WithListener(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))

	for i := 0; i < 3; i++ {
		r.RecordFailure(DistributedCache)
	}
	clk.Advance(time.Minute)
	require.NoError(t, r.Allow(DistributedCache))
	r.RecordSuccess(DistributedCache)

	require.Len(t, events, 3)
	assert.Equal(t, Event{Name: DistributedCache, From: Closed, To: Open, Failures: 3, At: events[0].At}, events[0])
	assert.Equal(t, Open, events[1].From)
	assert.Equal(t, HalfOpen, events[1].To)
	assert.Equal(t, HalfOpen, events[2].From)
	assert.Equal(t, Closed, events[2].To)
	assert.Equal(t, 0, events[2].Failures)
}

func TestRegistry_ListenerMayQueryRegistry(t *testing.T) {
	r, _ := newTestRegistry()
	var seen State
	r.OnTransition(func(e Event) {
		seen = r.State(e.Name)
	})

	for i := 0; i < 3; i++ {
		r.RecordFailure(SecretStore)
	}
	assert.Equal(t, Open, seen)
}

func TestRegistry_Reset(t *testing.T) {
	r, _ := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure(SecretStore)
	}

	r.Reset(SecretStore)
	assert.Equal(t, Closed, r.State(SecretStore))
	assert.NoError(t, r.Allow(SecretStore))
}

func TestRegistry_Concurrent(t *testing.T) {
	r, _ := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				r.RecordFailure(SecretStore)
			} else {
				_ = r.Allow(SecretStore)
				_ = r.Stats(SecretStore)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, Open, r.State(SecretStore))
}
