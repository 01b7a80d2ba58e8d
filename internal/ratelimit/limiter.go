package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a fixed-window attempt counter keyed by an arbitrary string.
// Allow increments the counter for key and reports whether the attempt fits in the window.
// Allow never fails: backends that cannot reach their state allow the attempt.
type Limiter interface {
	Allow(ctx context.Context, key string, maxAttempts int, window time.Duration) bool
}

// Entry is the counter state held for one key.
type Entry struct {
	Count       int
	WindowStart time.Time
}

// MemoryLimiter keeps one Entry per key behind a single mutex, so check-then-increment
// is atomic across goroutines.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow records an attempt for key. An absent or expired entry is reset to a count of one.
// Rejected attempts still count toward the window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, maxAttempts int, window time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.WindowStart) > window {
		l.entries[key] = &Entry{Count: 1, WindowStart: now}
		return true
	}

	entry.Count++
	return entry.Count <= maxAttempts
}

// Snapshot returns a copy of the entry for key.
func (l *MemoryLimiter) Snapshot(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Prune drops entries whose window ended before the given age, returning how many were removed.
// Expired entries behave like absent ones, so pruning only bounds memory.
func (l *MemoryLimiter) Prune(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if entry.WindowStart.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
