package gateway

import (
	"sync"
	"time"
)

// RateLimiter реализует sliding-window лимит на ключ клиента.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	events    map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter создает limiter; limit <= 0 означает отсутствие ограничения (nil).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow возвращает true, если запрос укладывается в лимит. Безопасен для nil.
func (l *RateLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	kept := prune(l.events[key], cutoff)
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// sweep удаляет ключи клиентов, которые давно не присылали запросов.
func (l *RateLimiter) sweep(cutoff time.Time) {
	for key, items := range l.events {
		if kept := prune(items, cutoff); len(kept) == 0 {
			delete(l.events, key)
		} else {
			l.events[key] = kept
		}
	}
}

func prune(items []time.Time, cutoff time.Time) []time.Time {
	kept := items[:0]
	for _, ts := range items {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
