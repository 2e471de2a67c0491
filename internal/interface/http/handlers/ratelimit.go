package handlers

import (
	"sync"
	"time"
)

// Limiter allows each client at most Limit requests per fixed window.
// Windows are aligned per client to its first request.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*windowCount
	sweptAt time.Time
}

type windowCount struct {
	start time.Time
	n     int
}

// NewLimiter returns a limiter, or nil when limit is not positive.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*windowCount),
	}
}

// Allow counts a request from key. When the budget is spent it reports
// false and the time until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	c, ok := l.clients[key]
	if !ok || now.Sub(c.start) >= l.window {
		l.clients[key] = &windowCount{start: now, n: 1}
		return true, 0
	}
	if c.n >= l.limit {
		return false, c.start.Add(l.window).Sub(now)
	}
	c.n++
	return true, 0
}

// sweep drops expired windows at most once per window, so idle clients
// do not accumulate.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.sweptAt) < l.window {
		return
	}
	for k, c := range l.clients {
		if now.Sub(c.start) >= l.window {
			delete(l.clients, k)
		}
	}
	l.sweptAt = now
}

// Clients reports how many clients hold an open window.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
