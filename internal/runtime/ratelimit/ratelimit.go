// Package ratelimit implements the adaptive fixed-window rate limiter used
// at the gateway edge. Each (category, key) pair owns an independent window;
// the effective limit is the configured base scaled by a load-adjustment
// factor recomputed whenever a new load sample arrives, not per request.
package ratelimit

import (
	"sync"
	"time"

	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	metricspkg "github.com/hrmesh/hrmesh/internal/runtime/metrics"
)

// Category partitions quota windows.
type Category string

const (
	CategoryGlobal     Category = "global"
	CategoryIdentity   Category = "identity"
	CategoryCredential Category = "credential"
	CategoryCustom     Category = "custom"
)

// GlobalKey is the single key of the global category.
const GlobalKey = ""

// Config tunes the limiter.
type Config struct {
	// Window is the fixed quota window length.
	Window time.Duration
	// BaseLimits are per-window request budgets per category. A zero or
	// missing base disables the category.
	BaseLimits map[Category]int
	// IdleTTL evicts per-key windows that have not been touched for this
	// long, bounding memory under high key cardinality.
	IdleTTL time.Duration
}

type windowKey struct {
	category Category
	key      string
}

type window struct {
	count    int
	startAt  time.Time
	lastSeen time.Time
}

// Limiter is the adaptive limiter. Safe for concurrent use.
type Limiter struct {
	cfg     Config
	logger  loggingpkg.ServiceLogger
	metrics *metricspkg.Metrics

	mu        sync.Mutex
	factor    float64
	windows   map[windowKey]*window
	lastSweep time.Time

	now func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMetrics records rejections on the given collectors.
func WithMetrics(m *metricspkg.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New constructs a Limiter with a neutral load factor.
func New(cfg Config, logger loggingpkg.ServiceLogger, opts ...Option) *Limiter {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	l := &Limiter{
		cfg:     cfg,
		logger:  logger,
		factor:  1.0,
		windows: make(map[windowKey]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// ObserveLoad ingests an external load signal L, clamped to [0, 1], and
// recomputes the load-adjustment factor: heavy load halves the limits,
// elevated load trims them, light load grows them.
func (l *Limiter) ObserveLoad(load float64) {
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}

	factor := 1.0
	switch {
	case load > 0.8:
		factor = 0.5
	case load > 0.6:
		factor = 0.75
	case load < 0.3:
		factor = 1.25
	}

	l.mu.Lock()
	changed := l.factor != factor
	l.factor = factor
	l.mu.Unlock()

	if changed {
		l.logger.Info("Rate limit load factor adjusted", loggingpkg.LogFields{
			"load":   load,
			"factor": factor,
		})
	}
}

// LoadFactor returns the factor currently in effect.
func (l *Limiter) LoadFactor() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.factor
}

// DeriveKey picks the quota category and key for a request: authenticated
// identity first, then credential, then origin address standing in as the
// weakest identity. First available wins.
func DeriveKey(identity, credential, origin string) (Category, string) {
	switch {
	case identity != "":
		return CategoryIdentity, identity
	case credential != "":
		return CategoryCredential, credential
	default:
		return CategoryIdentity, origin
	}
}

// AllowRequest checks the global window and then the per-client window
// derived from the request attributes. The first exhausted window rejects.
func (l *Limiter) AllowRequest(identity, credential, origin string) error {
	if err := l.Allow(CategoryGlobal, GlobalKey); err != nil {
		return err
	}
	category, key := DeriveKey(identity, credential, origin)
	return l.Allow(category, key)
}

// Allow consumes one slot from the (category, key) window, lazily resetting
// it at the window boundary. Exhausted windows reject with a structured
// error carrying the category variant code, the remaining window as the
// retry hint, and the load factor in effect.
func (l *Limiter) Allow(category Category, key string) error {
	base := l.cfg.BaseLimits[category]
	if base <= 0 {
		return nil
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	wk := windowKey{category: category, key: key}
	w, ok := l.windows[wk]
	if !ok {
		w = &window{startAt: now}
		l.windows[wk] = w
	}

	if now.Sub(w.startAt) >= l.cfg.Window {
		w.count = 0
		w.startAt = now
	}
	w.lastSeen = now

	limit := currentLimit(base, l.factor)
	if w.count >= limit {
		retryAfter := w.startAt.Add(l.cfg.Window).Sub(now)
		if l.metrics != nil {
			l.metrics.RateLimitRejections.WithLabelValues(string(category)).Inc()
		}
		err := errspkg.Newf(errspkg.RateLimitCode(string(category)),
			"rate limit of %d requests per %s exceeded", limit, l.cfg.Window)
		err.RetryAfter = retryAfter
		err.LoadFactor = l.factor
		return err
	}

	w.count++
	return nil
}

// sweepLocked evicts idle windows at most once per IdleTTL, amortising the
// scan over Allow calls instead of a background sweeper.
func (l *Limiter) sweepLocked(now time.Time) {
	if l.cfg.IdleTTL <= 0 || now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	l.lastSweep = now

	for wk, w := range l.windows {
		if now.Sub(w.lastSeen) >= l.cfg.IdleTTL {
			delete(l.windows, wk)
		}
	}
}

func currentLimit(base int, factor float64) int {
	limit := int(float64(base) * factor)
	if limit < 1 {
		limit = 1
	}
	return limit
}
