// Package ratelimit implements fixed-window request limiting, in memory or
// shared through redis.
package ratelimit

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type Limiter interface {
	Allow(key string, limit int, window time.Duration) Decision
	Close()
}

type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// Remaining is how many more requests fit into the current window.
func (d Decision) Remaining(limit int) int {
	if r := limit - d.Count; r > 0 {
		return r
	}
	return 0
}

type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]window
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

type window struct {
	count int
	end   time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	rl := &MemoryLimiter{
		entries: make(map[string]window),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.sweepLoop()
	return rl
}

func (rl *MemoryLimiter) Allow(key string, limit int, win time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if win <= 0 {
		win = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.end) {
		state = window{count: 1, end: now.Add(win)}
		rl.entries[key] = state
		return Decision{Allowed: true, Count: state.count, WindowEnd: state.end}
	}
	if state.count >= limit {
		return Decision{Allowed: false, Count: state.count, WindowEnd: state.end}
	}
	state.count++
	rl.entries[key] = state
	return Decision{Allowed: true, Count: state.count, WindowEnd: state.end}
}

func (rl *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.end) {
			delete(rl.entries, key)
		}
	}
}

func (rl *MemoryLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}
