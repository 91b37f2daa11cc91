package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

// BreakerState is the circuit breaker lifecycle state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerSettings parameterize one circuit breaker.
type BreakerSettings struct {
	// FailureThreshold is the consecutive expected-failure count that
	// opens the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long an open breaker rejects calls before
	// admitting half-open probes.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls caps concurrent half-open probes.
	HalfOpenMaxCalls int

	// ExpectedKinds lists the error kinds that count as failures.
	// Empty counts every error except context cancellation.
	ExpectedKinds []faults.Kind
}

// BreakerSettingsFromConfig builds settings from configured defaults.
func BreakerSettingsFromConfig(cfg *config.BreakerConfig) BreakerSettings {
	return BreakerSettings{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
	}
}

func (s BreakerSettings) normalized() BreakerSettings {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 60 * time.Second
	}
	if s.HalfOpenMaxCalls < 1 {
		s.HalfOpenMaxCalls = 1
	}
	return s
}

// BreakerSnapshot is a point-in-time view of one breaker.
type BreakerSnapshot struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	LastFailureAt    *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt    *time.Time   `json:"last_success_at,omitempty"`
	HalfOpenInFlight int          `json:"half_open_in_flight"`
}

// CircuitBreaker sheds load to a failing dependency. All state
// mutations happen under one mutex so every caller observes a
// consistent state.
type CircuitBreaker struct {
	name     string
	settings BreakerSettings
	log      *slog.Logger

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastFailureAt    time.Time
	lastSuccessAt    time.Time
	halfOpenInFlight int

	clock func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		settings: settings.normalized(),
		state:    StateClosed,
		clock:    time.Now,
		log:      slog.Default().With("component", "resilience.breaker", "breaker", name),
	}
}

// Name returns the breaker's registry key.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Do runs the op through the breaker. An open breaker rejects the call
// with a CircuitOpen error carrying the remaining recovery time.
func (b *CircuitBreaker) Do(ctx context.Context, op Op) (any, error) {
	probe, err := b.allow()
	if err != nil {
		return nil, err
	}
	result, opErr := op(ctx)
	b.record(opErr, probe)
	return result, opErr
}

// allow decides whether a call may proceed. The returned bool reports
// whether the call holds a half-open probe slot.
func (b *CircuitBreaker) allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.state {
	case StateOpen:
		remaining := b.settings.RecoveryTimeout - now.Sub(b.lastFailureAt)
		if remaining > 0 {
			return false, faults.CircuitOpenError(b.name, remaining)
		}
		b.transition(StateHalfOpen)
		b.halfOpenInFlight = 1
		return true, nil

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.settings.HalfOpenMaxCalls {
			return false, faults.CircuitOpenError(b.name, 0)
		}
		b.halfOpenInFlight++
		return true, nil

	default:
		return false, nil
	}
}

// record applies the call outcome to the state machine.
func (b *CircuitBreaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if probe && b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.lastSuccessAt = now
		b.failureCount = 0
		if b.state == StateHalfOpen {
			b.halfOpenInFlight = 0
			b.transition(StateClosed)
		}
		return
	}

	if !b.countable(err) {
		return
	}

	b.lastFailureAt = now
	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = 0
		b.transition(StateOpen)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// countable reports whether the error counts toward the failure
// threshold. Context cancellation never does.
func (b *CircuitBreaker) countable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if len(b.settings.ExpectedKinds) == 0 {
		return true
	}
	kind := faults.KindOf(err)
	for _, k := range b.settings.ExpectedKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// transition must be called with the mutex held.
func (b *CircuitBreaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.log.Info("Circuit breaker state changed",
		"from", prev,
		"to", next,
		"failure_count", b.failureCount)
}

// Snapshot returns a point-in-time view of the breaker.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		HalfOpenInFlight: b.halfOpenInFlight,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		snap.LastFailureAt = &t
	}
	if !b.lastSuccessAt.IsZero() {
		t := b.lastSuccessAt
		snap.LastSuccessAt = &t
	}
	return snap
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry hands out process-wide breakers keyed by name. Two
// requests for the same name always get the same breaker; the settings
// of the first request win.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker registered under name, creating it with the
// given settings when absent.
func (r *BreakerRegistry) Get(name string, settings BreakerSettings) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, settings)
	r.breakers[name] = b
	return b
}

// Snapshot returns a view of every registered breaker.
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}

// Breaker is the strategy form: it resolves the breaker for each call
// by the call's name, so wrapped calls with the same name share state.
type Breaker struct {
	Registry *BreakerRegistry
	Settings BreakerSettings
}

// Apply wraps the call with its named breaker.
func (s *Breaker) Apply(call *Call) *Call {
	next := call.Do
	name := call.Name
	wrapped := func(ctx context.Context) (any, error) {
		return s.Registry.Get(name, s.Settings).Do(ctx, next)
	}
	return &Call{Name: call.Name, Key: call.Key, Do: wrapped}
}
