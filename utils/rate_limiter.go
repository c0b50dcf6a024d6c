package utils

import (
	"sync"
	"time"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Limit is the number of events accepted per Window.
	Limit int
	// Window is the length of the sliding window.
	Window time.Duration
	// CleanupInterval is how often idle keys are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows 100 events per client per minute.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Limit:           100,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiter is a sliding-window log limiter keyed by an opaque client id
// (the hashed IP). An event is accepted if fewer than Limit events were
// accepted for the key in the preceding Window.
type RateLimiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop
// when done.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, time.Now)
}

func newRateLimiter(cfg RateLimiterConfig, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    now,
		done:   make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go rl.cleanupLoop(cfg.CleanupInterval)
	}
	return rl
}

// Allow reports whether an event for key is accepted and, if so, counts it.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.hits[key], now.Add(-rl.window))

	if len(hits) >= rl.limit {
		rl.hits[key] = hits
		return false
	}

	rl.hits[key] = append(hits, now)
	return true
}

// RetryAfter returns how long until key has room for another event.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.hits[key], now.Add(-rl.window))
	if len(hits) < rl.limit {
		return 0
	}
	return hits[len(hits)-rl.limit].Add(rl.window).Sub(now)
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupIdle()
		case <-rl.done:
			return
		}
	}
}

// cleanupIdle drops keys with no hits inside the window.
func (rl *RateLimiter) cleanupIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, hits := range rl.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(rl.hits, key)
		} else {
			rl.hits[key] = hits
		}
	}
}

// prune drops hits at or before cutoff. hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
