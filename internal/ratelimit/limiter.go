// Package ratelimit gates handshakes and API calls per identity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a fixed-window counter per key.
// ARCHITECTURAL DISCOVERY: per-key state tracking with periodic cleanup keeps
// memory bounded by the number of recently active identities.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// New creates a limiter allowing limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[key]
	if !ok || now.Sub(w.windowStart) >= l.window {
		l.clients[key] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops keys idle for more than five windows.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.clients {
		if now.Sub(w.windowStart) > 5*l.window {
			delete(l.clients, key)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
