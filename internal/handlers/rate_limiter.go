package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key inside a fixed window. It is
// meant for the low-volume credential endpoints, so a coarse in-process
// window is enough.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*rateBucket
}

type rateBucket struct {
	count   int
	started time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*rateBucket),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	if bucket == nil || now.Sub(bucket.started) >= l.window {
		l.dropStale(now)
		l.buckets[key] = &rateBucket{count: 1, started: now}
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	return true
}

// dropStale evicts buckets whose window has passed. Called with the lock
// held when a fresh window opens, which bounds map growth to active clients.
func (l *fixedWindowLimiter) dropStale(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.started) >= l.window {
			delete(l.buckets, key)
		}
	}
}
