package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
)

func testLimiter(baseLimits map[Category]int) (*Limiter, *time.Time) {
	now := time.Now()
	l := New(Config{
		Window:     time.Minute,
		BaseLimits: baseLimits,
		IdleTTL:    10 * time.Minute,
	}, nil, WithClock(func() time.Time { return now }))
	return l, &now
}

func TestLoadFactorBands(t *testing.T) {
	tests := []struct {
		load   float64
		factor float64
	}{
		{0.9, 0.5},
		{0.81, 0.5},
		{0.8, 0.75},
		{0.7, 0.75},
		{0.61, 0.75},
		{0.6, 1.0},
		{0.45, 1.0},
		{0.3, 1.0},
		{0.29, 1.25},
		{0.0, 1.25},
		{-5, 1.25}, // clamped to 0
		{3.0, 0.5}, // clamped to 1
	}
	for _, tt := range tests {
		l, _ := testLimiter(nil)
		l.ObserveLoad(tt.load)
		assert.Equal(t, tt.factor, l.LoadFactor(), "load %v", tt.load)
	}
}

func TestAdaptiveLimitUnderHighLoad(t *testing.T) {
	l, _ := testLimiter(map[Category]int{CategoryIdentity: 100})
	l.ObserveLoad(0.9)

	// With base 100 and factor 0.5, exactly 50 requests pass.
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Allow(CategoryIdentity, "user-1"), "request %d", i+1)
	}

	err := l.Allow(CategoryIdentity, "user-1")
	require.Error(t, err, "51st request must be rejected")

	structured, ok := errspkg.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errspkg.Code("IDENTITY_RATE_LIMIT_EXCEEDED"), structured.Code)
	assert.Equal(t, 0.5, structured.LoadFactor)
	assert.Greater(t, structured.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, structured.RetryAfter, time.Minute, "retry hint is the remaining window")
}

func TestLightLoadGrowsLimit(t *testing.T) {
	l, _ := testLimiter(map[Category]int{CategoryIdentity: 4})
	l.ObserveLoad(0.1)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(CategoryIdentity, "user-1"), "request %d", i+1)
	}
	assert.Error(t, l.Allow(CategoryIdentity, "user-1"), "base 4 at factor 1.25 allows 5")
}

func TestWindowResetsAtBoundary(t *testing.T) {
	l, now := testLimiter(map[Category]int{CategoryIdentity: 2})

	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	require.Error(t, l.Allow(CategoryIdentity, "user-1"))

	*now = now.Add(time.Minute)
	require.NoError(t, l.Allow(CategoryIdentity, "user-1"), "window must reset lazily at the boundary")
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(map[Category]int{CategoryIdentity: 1})

	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	require.Error(t, l.Allow(CategoryIdentity, "user-1"))
	require.NoError(t, l.Allow(CategoryIdentity, "user-2"), "another key has its own window")
}

func TestDisabledCategoryAlwaysAllows(t *testing.T) {
	l, _ := testLimiter(map[Category]int{CategoryIdentity: 1})

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(CategoryGlobal, GlobalKey))
		require.NoError(t, l.Allow(CategoryCredential, "token-1"))
	}
}

func TestDeriveKeyPriority(t *testing.T) {
	tests := []struct {
		name                        string
		identity, credential, origin string
		wantCategory                Category
		wantKey                     string
	}{
		{"identity wins", "user-1", "token-1", "10.0.0.1", CategoryIdentity, "user-1"},
		{"credential next", "", "token-1", "10.0.0.1", CategoryCredential, "token-1"},
		{"origin last", "", "", "10.0.0.1", CategoryIdentity, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, key := DeriveKey(tt.identity, tt.credential, tt.origin)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestAllowRequestChecksGlobalFirst(t *testing.T) {
	l, _ := testLimiter(map[Category]int{
		CategoryGlobal:   1,
		CategoryIdentity: 100,
	})

	require.NoError(t, l.AllowRequest("user-1", "", "10.0.0.1"))

	err := l.AllowRequest("user-2", "", "10.0.0.2")
	require.Error(t, err)
	assert.Equal(t, errspkg.Code("GLOBAL_RATE_LIMIT_EXCEEDED"), errspkg.CodeOf(err))
}

func TestRejectionsDoNotConsumeQuota(t *testing.T) {
	l, now := testLimiter(map[Category]int{CategoryIdentity: 2})

	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	for i := 0; i < 10; i++ {
		require.Error(t, l.Allow(CategoryIdentity, "user-1"))
	}

	// Rejections above must not have pushed the next window into debt.
	*now = now.Add(time.Minute)
	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
	require.NoError(t, l.Allow(CategoryIdentity, "user-1"))
}

func TestFactorRecomputedOnSampleNotPerRequest(t *testing.T) {
	l, _ := testLimiter(map[Category]int{CategoryIdentity: 10})
	l.ObserveLoad(0.9)
	assert.Equal(t, 0.5, l.LoadFactor())

	// Requests do not change the factor.
	for i := 0; i < 5; i++ {
		_ = l.Allow(CategoryIdentity, "user-1")
	}
	assert.Equal(t, 0.5, l.LoadFactor())

	l.ObserveLoad(0.1)
	assert.Equal(t, 1.25, l.LoadFactor())
}

func TestIdleKeyEviction(t *testing.T) {
	now := time.Now()
	current := now
	l := New(Config{
		Window:     time.Minute,
		BaseLimits: map[Category]int{CategoryIdentity: 5},
		IdleTTL:    2 * time.Minute,
	}, nil, WithClock(func() time.Time { return current }))

	require.NoError(t, l.Allow(CategoryIdentity, "stale-user"))
	require.Equal(t, 1, len(l.windows))

	// Past the idle TTL a fresh request sweeps the stale window out.
	current = now.Add(5 * time.Minute)
	require.NoError(t, l.Allow(CategoryIdentity, "active-user"))

	l.mu.Lock()
	_, staleExists := l.windows[windowKey{category: CategoryIdentity, key: "stale-user"}]
	l.mu.Unlock()
	assert.False(t, staleExists, "idle windows must be evicted")
}
