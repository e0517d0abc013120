// Package breaker implements the per-service circuit breaker protecting the
// synchronous call path. A breaker stops calls to a downstream after a run
// of failures and lets exactly one probe through once the cooldown elapses.
package breaker

import (
	"context"
	"sync"
	"time"

	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	metricspkg "github.com/hrmesh/hrmesh/internal/runtime/metrics"
)

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes a breaker.
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
}

// Breaker guards calls to one logical service. Safe for concurrent use.
//
// The OPEN to HALF_OPEN transition happens lazily on the next Allow after
// the cooldown, not on a background timer. While a half-open probe is in
// flight, all other callers fail fast.
type Breaker struct {
	service string
	cfg     Config

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
	probing       bool

	now          func() time.Time
	onTransition func(service string, from, to State)
}

// NewBreaker constructs a closed breaker for a service.
func NewBreaker(service string, cfg Config) *Breaker {
	return &Breaker{
		service: service,
		cfg:     cfg,
		state:   StateClosed,
		now:     time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has not elapsed, it returns a CIRCUIT_OPEN error whose RetryAfter
// carries the remaining cooldown; the downstream is not contacted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining := b.cfg.Cooldown - b.now().Sub(b.lastFailureAt)
		if remaining > 0 {
			return b.openError(remaining)
		}
		b.transitionLocked(StateHalfOpen)
		b.probing = true
		return nil

	default: // StateHalfOpen
		if b.probing {
			// A probe is in flight; everyone else fails fast until it resolves.
			return b.openError(0)
		}
		b.probing = true
		return nil
	}
}

// ReportSuccess records a successful call. A successful half-open probe
// closes the breaker and zeroes the failure count. In the closed state the
// failure count decays by one per success rather than resetting, so a
// slowly-degrading service that fails intermittently still trips the
// breaker eventually.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.failureCount = 0
		b.transitionLocked(StateClosed)
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

// ReportFailure records a failed call. Reaching the threshold in the closed
// state opens the breaker; a failed half-open probe reopens it and restarts
// the cooldown.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.lastFailureAt = b.now()
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.failureCount++
		b.lastFailureAt = b.now()
		if b.failureCount >= b.cfg.Threshold {
			b.transitionLocked(StateOpen)
		}
	}
}

// Release returns an admission obtained from Allow without recording an
// outcome, for calls that never reached the downstream. Releasing a
// half-open probe slot makes it available to the next caller.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// Do runs fn under the breaker, reporting its outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		b.ReportFailure()
		return err
	}
	b.ReportSuccess()
	return nil
}

// State returns the stored state. The OPEN to HALF_OPEN transition only
// happens on Allow, so an open breaker past its cooldown still reports
// OPEN here.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

func (b *Breaker) openError(retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	err := errspkg.Newf(errspkg.CodeCircuitOpen, "circuit for service %q is open", b.service)
	err.RetryAfter = retryAfter
	return err
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(b.service, from, to)
	}
}

// Set manages one breaker per logical service, created on first use with a
// shared config.
type Set struct {
	cfg     Config
	logger  loggingpkg.ServiceLogger
	metrics *metricspkg.Metrics

	mu       sync.Mutex
	breakers map[string]*Breaker

	now func() time.Time
}

// SetOption customises a Set.
type SetOption func(*Set)

// WithClock overrides the time source of every breaker, for tests.
func WithClock(now func() time.Time) SetOption {
	return func(s *Set) { s.now = now }
}

// WithMetrics records state transitions on the given collectors.
func WithMetrics(m *metricspkg.Metrics) SetOption {
	return func(s *Set) { s.metrics = m }
}

// NewSet constructs an empty breaker set.
func NewSet(cfg Config, logger loggingpkg.ServiceLogger, opts ...SetOption) *Set {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	s := &Set{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the breaker for a service, creating it on first use.
func (s *Set) Get(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[service]
	if !ok {
		b = NewBreaker(service, s.cfg)
		b.now = s.now
		b.onTransition = s.recordTransition
		s.breakers[service] = b
	}
	return b
}

func (s *Set) recordTransition(service string, from, to State) {
	s.logger.Info("Circuit breaker state changed", loggingpkg.LogFields{
		"service": service,
		"from":    string(from),
		"to":      string(to),
	})
	if s.metrics != nil {
		s.metrics.BreakerTransitions.WithLabelValues(service, string(from), string(to)).Inc()
	}
}
