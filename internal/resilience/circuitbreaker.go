// Package resilience keeps the voice pipeline responsive when a stage
// provider degrades. A [CircuitBreaker] guards each provider so that a
// backend timing out on every call stops being asked; [FallbackGroup]
// chains providers of one kind (STT, LLM, TTS) and routes each turn to
// the first healthy entry. A stalled cloud API then costs one turn, not
// the whole session.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and its reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen]. Entered after too many
	// consecutive failures; left once the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker, a single failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values fall back to
// defaults sized for per-turn provider calls.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output, typically the provider name.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker rejects calls before probing the
	// provider again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker (closed, open, half-open) in
// front of a single provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failRun   int
	trippedAt time.Time
	probes    int
	probeFail int
}

// NewCircuitBreaker creates a breaker from cfg, filling unset fields with
// their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the breaker rejects the call. While open it
// returns [ErrCircuitOpen] without invoking fn; while half-open only the
// configured probe budget gets through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()
	cb.settle(err, probe)
	return err
}

// allow decides whether a call may proceed and reports whether it counts
// as a half-open probe.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.trippedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFail = 0
		slog.Info("circuit breaker transitioning to half-open",
			"name", cb.cfg.Name)

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			// Probe budget spent; wait for an outcome.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle applies the outcome of a permitted call.
func (cb *CircuitBreaker) settle(callErr error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		cb.trippedAt = cb.now()
		if probe {
			// One failed probe re-opens immediately.
			cb.probeFail++
			cb.state = StateOpen
			cb.failRun = cb.cfg.MaxFailures
			slog.Warn("circuit breaker re-opened from half-open",
				"name", cb.cfg.Name)
			return
		}
		cb.failRun++
		if cb.failRun >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.cfg.Name,
				"consecutive_failures", cb.failRun)
		}
		return
	}

	if probe {
		if cb.probes-cb.probeFail >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failRun = 0
			cb.probes = 0
			cb.probeFail = 0
			slog.Info("circuit breaker closed after successful probes",
				"name", cb.cfg.Name)
		}
		return
	}
	cb.failRun = 0
}

// State reports the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition
// happens on the next [Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.trippedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failRun = 0
	cb.probes = 0
	cb.probeFail = 0
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}
