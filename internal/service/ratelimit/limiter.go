package ratelimit

import (
	"sync"
	"time"
)

const window = time.Minute

// Limiter is a per-provider sliding-window admission check. State is
// in-memory only; a process restart resets the windows, which is
// acceptable because the configured ceilings are conservative.
type Limiter struct {
	mu  sync.Mutex
	m   map[string][]time.Time
	now func() time.Time
}

func New() *Limiter {
	return &Limiter{m: make(map[string][]time.Time), now: time.Now}
}

// NewWithClock injects a clock for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{m: make(map[string][]time.Time), now: now}
}

// Limited reports whether key has reached ceiling calls within the
// trailing window. A ceiling of 0 always reports limited, which
// disables a provider without removing its descriptor.
func (l *Limiter) Limited(key string, ceiling int) bool {
	if ceiling <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.prune(key, now)
	return len(kept) >= ceiling
}

// Record notes one call against key.
func (l *Limiter) Record(key string) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[key] = append(l.prune(key, now), now)
}

// prune drops timestamps older than the window. Caller holds the lock.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	stamps := l.m[key]
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	kept := stamps[i:]
	l.m[key] = kept
	return kept
}
