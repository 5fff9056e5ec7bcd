// Package breaker implements a registry of named circuit breakers, one per
// protected dependency.
//
// A breaker opens after FailureThreshold consecutive failures and rejects
// calls without touching the dependency until RecoveryTimeout has elapsed.
// It then lets exactly one trial call through (half-open): a success closes
// the breaker and clears the failure count, a failure reopens it and
// restarts the timeout.
package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Names of the breakers guarding the external dependencies.
const (
	SecretStore      = "secret-store"
	DistributedCache = "distributed-cache"
	Cipher           = "cipher"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = apperrors.Wrap(apperrors.ErrUnavailable, "circuit breaker is open")

// State is the state of a single breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures one breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Event describes a state transition.
type Event struct {
	Name     string
	From     State
	To       State
	Failures int
	At       time.Time
}

// Listener receives transition events. Listeners run synchronously on the
// goroutine that caused the transition, outside any breaker lock.
type Listener func(Event)

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	RecoveryTimeout  time.Duration
	OpenedAt         time.Time
}

type circuitBreaker struct {
	mu       sync.Mutex
	name     string
	config   Config
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// Registry owns the breakers. Breakers are created on first use.
type Registry struct {
	clock    clock.Clock
	defaults Config

	mu        sync.Mutex
	configs   map[string]Config
	breakers  map[string]*circuitBreaker
	listeners []Listener
}

// Option configures a Registry.
type Option func(*Registry)

// WithBreaker overrides the configuration for one breaker name.
func WithBreaker(name string, cfg Config) Option {
	return func(r *Registry) {
		r.configs[name] = cfg
	}
}

// WithListener registers a transition listener.
func WithListener(l Listener) Option {
	return func(r *Registry) {
		r.listeners = append(r.listeners, l)
	}
}

// NewRegistry creates a Registry. Breakers without an override use defaults.
func NewRegistry(defaults Config, clk clock.Clock, opts ...Option) *Registry {
	if clk == nil {
		clk = clock.WallClock
	}
	r := &Registry{
		clock:    clk,
		defaults: defaults,
		configs:  make(map[string]Config),
		breakers: make(map[string]*circuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTransition registers a listener after construction.
func (r *Registry) OnTransition(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the breaker is open, and while a half-open trial is already in flight.
func (r *Registry) Allow(name string) error {
	cb := r.get(name)
	now := r.clock.Now()

	cb.mu.Lock()
	var event *Event
	switch cb.state {
	case Open:
		if now.Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.mu.Unlock()
			return apperrors.Wrap(ErrCircuitOpen, name)
		}
		event = cb.transition(HalfOpen, now)
		cb.trial = true
	case HalfOpen:
		if cb.trial {
			cb.mu.Unlock()
			return apperrors.Wrap(ErrCircuitOpen, name)
		}
		cb.trial = true
	}
	cb.mu.Unlock()

	r.emit(event)
	return nil
}

// RecordSuccess records a successful call.
func (r *Registry) RecordSuccess(name string) {
	cb := r.get(name)

	cb.mu.Lock()
	var event *Event
	switch cb.state {
	case HalfOpen:
		cb.failures = 0
		cb.trial = false
		event = cb.transition(Closed, r.clock.Now())
	case Closed:
		cb.failures = 0
	}
	cb.mu.Unlock()

	r.emit(event)
}

// RecordFailure records a failed call and returns the resulting state.
func (r *Registry) RecordFailure(name string) State {
	cb := r.get(name)
	now := r.clock.Now()

	cb.mu.Lock()
	var event *Event
	cb.failures++
	switch cb.state {
	case HalfOpen:
		cb.trial = false
		cb.openedAt = now
		event = cb.transition(Open, now)
	case Closed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = now
			event = cb.transition(Open, now)
		}
	}
	state := cb.state
	cb.mu.Unlock()

	r.emit(event)
	return state
}

// Execute runs fn if the breaker allows it and records the outcome. Context
// cancellation by the caller is not counted against the dependency.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := r.Allow(name); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		r.RecordSuccess(name)
	case errors.Is(err, context.Canceled):
		r.release(name)
	default:
		r.RecordFailure(name)
	}
	return err
}

// release gives back a half-open trial slot without recording an outcome.
func (r *Registry) release(name string) {
	cb := r.get(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false
}

// State returns the current state. An open breaker whose recovery timeout has
// elapsed is reported as half-open.
func (r *Registry) State(name string) State {
	return r.Stats(name).State
}

// Stats returns diagnostic information for a breaker.
func (r *Registry) Stats(name string) Stats {
	cb := r.get(name)
	now := r.clock.Now()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state
	if state == Open && now.Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
		state = HalfOpen
	}
	return Stats{
		Name:             cb.name,
		State:            state,
		Failures:         cb.failures,
		FailureThreshold: cb.config.FailureThreshold,
		RecoveryTimeout:  cb.config.RecoveryTimeout,
		OpenedAt:         cb.openedAt,
	}
}

// Names returns the names of all known breakers, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenBreakers returns the names of breakers currently rejecting calls.
func (r *Registry) OpenBreakers() []string {
	var open []string
	for _, name := range r.Names() {
		if r.State(name) == Open {
			open = append(open, name)
		}
	}
	return open
}

// Reset forces a breaker closed and clears its failure count.
func (r *Registry) Reset(name string) {
	cb := r.get(name)

	cb.mu.Lock()
	cb.failures = 0
	cb.trial = false
	var event *Event
	if cb.state != Closed {
		event = cb.transition(Closed, r.clock.Now())
	}
	cb.mu.Unlock()

	r.emit(event)
}

// transition must be called with cb.mu held.
func (cb *circuitBreaker) transition(to State, at time.Time) *Event {
	event := &Event{Name: cb.name, From: cb.state, To: to, Failures: cb.failures, At: at}
	cb.state = to
	return event
}

func (r *Registry) emit(event *Event) {
	if event == nil {
		return
	}
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(*event)
	}
}

func (r *Registry) get(name string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cfg, ok := r.configs[name]
		if !ok {
			cfg = r.defaults
		}
		cb = &circuitBreaker{name: name, config: cfg}
		r.breakers[name] = cb
	}
	return cb
}
