// rateLimiter is a fixed one-second window counter keyed by arbitrary
// string (the relay keys on remote address plus datagram tag). Audio
// datagrams are never limited; only control traffic passes through here.
package main

import (
	"sync"
	"time"
)

type rateWindow struct {
	start time.Time
	count int
}

type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	max     int
	now     func() time.Time
}

func newRateLimiter(max int) *rateLimiter {
	return &rateLimiter{
		windows: make(map[string]*rateWindow),
		max:     max,
		now:     time.Now,
	}
}

// Allow reports whether one more event is admitted for key.
func (r *rateLimiter) Allow(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.windows[key]
	if w == nil || now.Sub(w.start) >= time.Second {
		r.windows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= r.max
}

// Sweep drops windows older than one second so the map stays bounded.
func (r *rateLimiter) Sweep() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, w := range r.windows {
		if now.Sub(w.start) >= time.Second {
			delete(r.windows, key)
		}
	}
}
