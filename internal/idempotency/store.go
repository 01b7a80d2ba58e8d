package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Record is a previously computed result cached under a deduplication key.
type Record struct {
	Key      string
	Value    []byte
	StoredAt time.Time
}

// Store maps deduplication keys to computed results with a TTL.
// Expired records behave as misses.
type Store interface {
	// Get retrieves the record for key if it has not expired
	Get(ctx context.Context, key string) (*Record, bool)

	// Set stores value under key for ttl, overwriting any previous record
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a record
	Delete(ctx context.Context, key string) error
}

// Claimer is implemented by stores shared between processes. A claim marks a key as
// being computed so that only one process runs the computation.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store with LRU eviction once maxSize records are held.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxSize bounds the number of cached records.
func WithMaxSize(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a store holding at most 10,000 records and sweeping expired
// records every 5 minutes.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	return newMemoryStore(5*time.Minute, opts...)
}

func newMemoryStore(sweepEvery time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		maxSize:     10000,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanup(sweepEvery)

	return s
}

// Get returns the record for key. An expired record is dropped and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if now.After(entry.expiresAt) {
		s.removeLocked(elem)
		return nil, false
	}

	s.lru.MoveToFront(elem)
	rec := entry.record
	return &rec, true
}

// Set stores value under key, evicting the least recently used record when full.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	rec := Record{Key: key, Value: append([]byte(nil), value...), StoredAt: now}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value = &memoryEntry{record: rec, expiresAt: now.Add(ttl)}
		s.lru.MoveToFront(elem)
		return nil
	}

	for len(s.entries) >= s.maxSize {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeLocked(back)
	}

	s.entries[key] = s.lru.PushFront(&memoryEntry{record: rec, expiresAt: now.Add(ttl)})
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// Len returns the number of held records, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// removeLocked drops elem from both indexes (caller must hold lock).
func (s *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	s.lru.Remove(elem)
	delete(s.entries, entry.record.Key)
}

// sweep drops every expired record.
func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*memoryEntry).expiresAt) {
			s.removeLocked(elem)
		}
		elem = prev
	}
}

func (s *MemoryStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Stop shuts down the sweep goroutine. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
}

// Close implements io.Closer for lifecycle registration.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}
