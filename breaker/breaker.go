/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Per-dependency circuit breaker with closed/open/
             half-open states, consecutive-failure threshold,
             recovery timeout, and a half-open concurrency cap.
Root Cause:  Sprint task N016 — fault isolation for LLM and
             provider calls.
Context:     Rejection surfaces as ErrOpen so pipeline stages can
             tell breaker rejections from downstream failures.
Suitability: L3 model for concurrent state machine logic.
──────────────────────────────────────────────────────────────
*/

package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the breaker rejects a call without invoking
// the underlying function.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker tuning parameters.
type Config struct {
	FailureThreshold  int           // consecutive failures before opening
	RecoveryTimeout   time.Duration // time in open before probing
	HalfOpenMaxCalls  int           // concurrent probes allowed in half-open
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Stats tracks call outcomes for observability.
type Stats struct {
	TotalCalls           int64 `json:"total_calls"`
	SuccessfulCalls      int64 `json:"successful_calls"`
	FailedCalls          int64 `json:"failed_calls"`
	RejectedCalls        int64 `json:"rejected_calls"`
	ConsecutiveFailures  int   `json:"consecutive_failures"`
	ConsecutiveSuccesses int   `json:"consecutive_successes"`
}

// Breaker protects one named dependency.
type Breaker struct {
	name   string
	config Config
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	stats    Stats
	openedAt time.Time

	// Caps concurrent probes while half-open.
	halfOpenSem chan struct{}
}

// New creates a breaker in the closed state.
func New(name string, config Config, log zerolog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		name:        name,
		config:      config,
		log:         log.With().Str("component", "breaker").Str("name", name).Logger(),
		state:       StateClosed,
		halfOpenSem: make(chan struct{}, config.HalfOpenMaxCalls),
	}
}

// State returns the current state (after applying any due transition).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state
}

// Stats returns a snapshot of the call counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// maybeTransition moves open → half-open once the recovery timeout has
// elapsed. Caller must hold b.mu.
func (b *Breaker) maybeTransition() {
	if b.state == StateOpen && !b.openedAt.IsZero() &&
		time.Since(b.openedAt) >= b.config.RecoveryTimeout {
		b.log.Info().
			Dur("recovery_timeout", b.config.RecoveryTimeout).
			Msg("transitioning from open to half-open")
		b.state = StateHalfOpen
	}
}

// Call executes fn through the breaker.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	b.maybeTransition()

	if b.state == StateOpen {
		b.stats.TotalCalls++
		b.stats.RejectedCalls++
		b.mu.Unlock()
		return fmt.Errorf("%w: %s (retry after %s)", ErrOpen, b.name, b.config.RecoveryTimeout)
	}
	halfOpen := b.state == StateHalfOpen
	b.mu.Unlock()

	if halfOpen {
		// Non-blocking semaphore acquire: excess probes are rejected
		// immediately rather than queued behind the probe in flight.
		select {
		case b.halfOpenSem <- struct{}{}:
			defer func() { <-b.halfOpenSem }()
		default:
			b.mu.Lock()
			b.stats.TotalCalls++
			b.stats.RejectedCalls++
			b.mu.Unlock()
			return fmt.Errorf("%w: %s (half-open probe in flight)", ErrOpen, b.name)
		}
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(err)
		return err
	}
	b.recordSuccess()
	return nil
}

// recordSuccess updates counters and closes the circuit when a half-open
// probe succeeds. Caller must hold b.mu.
func (b *Breaker) recordSuccess() {
	b.stats.TotalCalls++
	b.stats.SuccessfulCalls++
	b.stats.ConsecutiveSuccesses++
	b.stats.ConsecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.log.Info().Msg("transitioning from half-open to closed after successful probe")
		b.state = StateClosed
		b.openedAt = time.Time{}
	}
}

// recordFailure updates counters and opens the circuit when the
// threshold is reached or a half-open probe fails. Caller must hold b.mu.
func (b *Breaker) recordFailure(err error) {
	b.stats.TotalCalls++
	b.stats.FailedCalls++
	b.stats.ConsecutiveFailures++
	b.stats.ConsecutiveSuccesses = 0

	b.log.Warn().
		Err(err).
		Int("consecutive", b.stats.ConsecutiveFailures).
		Int("threshold", b.config.FailureThreshold).
		Msg("recorded failure")

	switch b.state {
	case StateClosed:
		if b.stats.ConsecutiveFailures >= b.config.FailureThreshold {
			b.log.Error().Msg("transitioning to open after consecutive failures")
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	case StateHalfOpen:
		b.log.Warn().Msg("transitioning back to open after half-open failure")
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// Reset returns the breaker to the closed state and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Info().Msg("manually reset to closed")
	b.state = StateClosed
	b.stats = Stats{}
	b.openedAt = time.Time{}
}

// Status is the JSON shape served by the admin endpoint.
type Status struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Stats  Stats  `json:"stats"`
	Config struct {
		FailureThreshold int     `json:"failure_threshold"`
		RecoveryTimeout  float64 `json:"recovery_timeout_sec"`
		HalfOpenMaxCalls int     `json:"half_open_max_calls"`
	} `json:"config"`
}

// Status returns the breaker status for API responses.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Name: b.name, State: b.state, Stats: b.stats}
	st.Config.FailureThreshold = b.config.FailureThreshold
	st.Config.RecoveryTimeout = b.config.RecoveryTimeout.Seconds()
	st.Config.HalfOpenMaxCalls = b.config.HalfOpenMaxCalls
	return st
}

// ─── Registry ───────────────────────────────────────────────

// Registry manages breakers by dependency name.
type Registry struct {
	mu       sync.Mutex
	log      zerolog.Logger
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it with config on first use.
func (r *Registry) Get(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, config, r.log)
	r.breakers[name] = b
	return b
}

// StatusAll returns status for every registered breaker.
func (r *Registry) StatusAll() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	return out
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
