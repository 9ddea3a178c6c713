// Package ratelimit provides an in-memory token-bucket limiter keyed by
// client.
package ratelimit

import (
	"sync"
	"time"
)

// entry tracks the token-bucket state for a single key.
type entry struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter implements an in-memory token-bucket rate limiter.
// Tokens refill at a rate of (limit / window) per second.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	burst   int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a rate limiter with the given refill window. burst caps the
// bucket size; zero caps it at the per-window limit. Call Close to stop the
// background cleanup.
func New(window time.Duration, burst int) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		burst:   burst,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Window returns the refill window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) capacity(limit int) float64 {
	if l.burst > 0 && l.burst < limit {
		return float64(l.burst)
	}
	return float64(limit)
}

// Allow checks whether the given key has remaining capacity.
// It consumes one token on success and returns true.
// Returns false when the rate limit has been exceeded.
func (l *Limiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := l.capacity(limit)
	e, exists := l.entries[key]
	if !exists {
		l.entries[key] = &entry{
			tokens:    capacity - 1,
			lastCheck: now,
		}
		return true
	}

	elapsed := now.Sub(e.lastCheck)
	e.lastCheck = now

	// Refill tokens proportionally to elapsed time.
	rate := float64(limit) / l.window.Seconds()
	e.tokens += elapsed.Seconds() * rate
	if e.tokens > capacity {
		e.tokens = capacity
	}

	if e.tokens < 1 {
		return false
	}

	e.tokens--
	return true
}

// Reset clears the rate-limit state for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// cleanup periodically removes stale entries.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * l.window)
			for key, e := range l.entries {
				if e.lastCheck.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
