package storage

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps payment records in process. Used in tests and single-node development.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]PaymentRecord
	byRef map[string]string
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]PaymentRecord),
		byRef: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreatePayment(_ context.Context, rec PaymentRecord) (PaymentRecord, error) {
	if err := prepareRecord(&rec); err != nil {
		return PaymentRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return PaymentRecord{}, ErrDuplicate
	}
	if _, ok := s.byRef[rec.ExternalReference]; ok {
		return PaymentRecord{}, ErrDuplicate
	}
	rec.Metadata = maps.Clone(rec.Metadata)
	s.byID[rec.ID] = rec
	s.byRef[rec.ExternalReference] = rec.ID
	return clone(rec), nil
}

func (s *MemoryStore) FindByExternalReference(_ context.Context, externalReference string) (PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[externalReference]
	if !ok {
		return PaymentRecord{}, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, id string, patch PaymentPatch) (PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return PaymentRecord{}, ErrNotFound
	}
	patch.apply(&rec, s.now())
	s.byID[id] = rec
	return clone(rec), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(rec PaymentRecord) PaymentRecord {
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec
}
